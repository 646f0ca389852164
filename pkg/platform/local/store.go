package local

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/tools"
)

// handleStore persists agent and thread handles in SQLite so that a session
// resumed in a later process still resolves to the same emulated entities.
type handleStore struct {
	db *sql.DB
}

type agentRow struct {
	ID           string
	Name         string
	Model        string
	Instructions string
	Temperature  float64
	Tools        []tools.Spec
}

type threadMessage struct {
	Role    string
	Content string
}

func newHandleStore(dbPath string) (*handleStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &handleStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *handleStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		model TEXT NOT NULL,
		instructions TEXT NOT NULL,
		temperature REAL NOT NULL,
		tools_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thread_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id)
	);

	CREATE INDEX IF NOT EXISTS idx_thread_messages_thread
		ON thread_messages(thread_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *handleStore) insertAgent(id string, spec platform.AgentSpec) error {
	toolsJSON, err := json.Marshal(spec.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agents (id, name, model, instructions, temperature, tools_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, spec.Name, spec.Model, spec.Instructions, spec.Temperature, string(toolsJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (s *handleStore) getAgent(id string) (*agentRow, error) {
	row := s.db.QueryRow(
		`SELECT id, name, model, instructions, temperature, tools_json FROM agents WHERE id = ?`, id,
	)

	var a agentRow
	var toolsJSON string
	if err := row.Scan(&a.ID, &a.Name, &a.Model, &a.Instructions, &a.Temperature, &toolsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent not found: %s", id)
		}
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &a.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent tools: %w", err)
	}
	return &a, nil
}

func (s *handleStore) deleteAgent(id string) error {
	if _, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}

func (s *handleStore) insertThread(id string) error {
	if _, err := s.db.Exec(`INSERT INTO threads (id, created_at) VALUES (?, ?)`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}
	return nil
}

func (s *handleStore) threadExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up thread: %w", err)
	}
	return true, nil
}

func (s *handleStore) deleteThread(id string) error {
	if _, err := s.db.Exec(`DELETE FROM thread_messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete thread messages: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

func (s *handleStore) appendMessage(threadID, role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO thread_messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		threadID, role, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *handleStore) threadHistory(threadID string) ([]threadMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content FROM thread_messages WHERE thread_id = ? ORDER BY id ASC`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread history: %w", err)
	}
	defer rows.Close()

	var messages []threadMessage
	for rows.Next() {
		var m threadMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *handleStore) close() error {
	return s.db.Close()
}
