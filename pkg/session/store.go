package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store manages one JSON record per session id on disk.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".selune", "conversations")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Session store initialized")

	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// validateSessionID rejects ids that could escape the store directory.
func (s *Store) validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// ArtifactsDir returns the per-session directory for generated files.
func (s *Store) ArtifactsDir(id string) string {
	return filepath.Join(s.dir, id, "images")
}

func (s *Store) getWriteLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[id]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[id] = lock
	return lock
}

func (s *Store) releaseWriteLock(id string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, id)
}

// Load reads a session record. A missing record is not an error: an empty
// record with no handles is returned.
func (s *Store) Load(id string) (*Record, error) {
	if err := s.validateSessionID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("session_id", id).Msg("Session does not exist")
			return &Record{}, nil
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse session record: %w", err)
	}

	log.Debug().
		Str("session_id", id).
		Int("turns", len(rec.Turns)).
		Msg("Session loaded")

	return &rec, nil
}

// Save replaces the whole record. The write goes to a temp file first and is
// renamed into place, so a failed write never corrupts the previous state.
// Assistant turns have reasoning spans stripped before hitting disk.
func (s *Store) Save(id string, rec *Record) error {
	if err := s.validateSessionID(id); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	out := Record{
		SchemaVersion: CurrentSchemaVersion,
		AgentID:       rec.AgentID,
		ThreadID:      rec.ThreadID,
		Turns:         make([]Turn, len(rec.Turns)),
	}
	copy(out.Turns, rec.Turns)
	for i := range out.Turns {
		if out.Turns[i].Role == RoleAssistant {
			out.Turns[i].Content = StripReasoning(out.Turns[i].Content)
		}
	}

	data, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	path := s.recordPath(id)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}

	// Atomic replace
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session record: %w", err)
	}

	log.Debug().
		Str("session_id", id).
		Int("turns", len(out.Turns)).
		Msg("Session saved")

	return nil
}

// List returns all session ids ordered by most recent modification first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	type listed struct {
		id      string
		modTime time.Time
	}

	var sessions []listed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, listed{
			id:      strings.TrimSuffix(name, ".json"),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].modTime.After(sessions[j].modTime)
	})

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.id)
	}

	return ids, nil
}

// Stat returns the last-modified time of a session record.
func (s *Store) Stat(id string) (time.Time, error) {
	if err := s.validateSessionID(id); err != nil {
		return time.Time{}, err
	}

	info, err := os.Stat(s.recordPath(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat session record: %w", err)
	}
	return info.ModTime(), nil
}

// Delete removes a session record and its artifacts directory. Deleting a
// non-existent id is not an error.
func (s *Store) Delete(id string) error {
	if err := s.validateSessionID(id); err != nil {
		return err
	}

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	// Generated files live in a folder named after the session id.
	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return fmt.Errorf("failed to delete session artifacts: %w", err)
	}

	s.releaseWriteLock(id)

	log.Info().Str("session_id", id).Msg("Session deleted")

	return nil
}

// Close releases per-session locks.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return nil
}
