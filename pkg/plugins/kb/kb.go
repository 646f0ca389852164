// Package kb implements the internal knowledge base tool: document chunks
// in SQLite with vector retrieval through sqlite-vec.
package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/tools"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

const topK = 3

// KnowledgeBase stores document chunks and retrieves the closest ones to a
// query by cosine distance.
type KnowledgeBase struct {
	db       *sql.DB
	embedder Embedder
}

// Open opens (creating if needed) the knowledge base at dbPath.
func Open(dbPath string, embedder Embedder) (*KnowledgeBase, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	kb := &KnowledgeBase{db: db, embedder: embedder}
	if err := kb.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return kb, nil
}

func (kb *KnowledgeBase) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		page INTEGER NOT NULL,
		content TEXT NOT NULL
	);
	`
	if _, err := kb.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
			chunk_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, kb.embedder.Dimension())
	if _, err := kb.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (kb *KnowledgeBase) Close() error {
	return kb.db.Close()
}

// AddChunk embeds and stores one document chunk.
func (kb *KnowledgeBase) AddChunk(ctx context.Context, title string, page int, content string) error {
	embedding, err := kb.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed chunk: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	result, err := kb.db.ExecContext(ctx,
		`INSERT INTO chunks (title, page, content) VALUES (?, ?, ?)`, title, page, content)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	chunkID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read chunk id: %w", err)
	}

	_, err = kb.db.ExecContext(ctx,
		`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)`,
		chunkID, string(embeddingJSON))
	if err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// Query retrieves the closest chunks and formats them as titled source
// blocks. All failure modes come back as explanatory text.
func (kb *KnowledgeBase) Query(ctx context.Context, query string) string {
	embedding, err := kb.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to embed knowledge base query")
		return fmt.Sprintf("Failed to query knowledge base: %v", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Sprintf("Failed to query knowledge base: %v", err)
	}

	rows, err := kb.db.QueryContext(ctx, `
		SELECT c.title, c.page, c.content,
			vec_distance_cosine(e.embedding, ?) as distance
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), topK)
	if err != nil {
		log.Warn().Err(err).Msg("Knowledge base query failed")
		return fmt.Sprintf("Failed to query knowledge base: %v", err)
	}
	defer rows.Close()

	var blocks []string
	for rows.Next() {
		var title, content string
		var page int
		var distance float64
		if err := rows.Scan(&title, &page, &content, &distance); err != nil {
			return fmt.Sprintf("Failed to query knowledge base: %v", err)
		}
		blocks = append(blocks, fmt.Sprintf("# Source %q - Page %d\n%s", title, page, content))
	}
	if len(blocks) == 0 {
		return "No relevant documents found in the knowledge base."
	}
	return strings.Join(blocks, "\n\n")
}

// RegisterTools registers the query_kb tool.
func RegisterTools(registry *tools.Registry, kb *KnowledgeBase) error {
	return registry.Register(tools.Definition{
		Name:        "query_kb",
		Description: "Search the internal knowledge base for product documentation",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "The question to look up", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) string {
			query, _ := args["query"].(string)
			return kb.Query(ctx, query)
		},
	})
}
