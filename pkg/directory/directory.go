// Package directory lists, titles, and deletes stored sessions for the
// presentation surface. Titles are cached and the cache is invalidated by a
// filesystem watcher on the sessions directory.
package directory

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/session"
)

// Entry is one listed session.
type Entry struct {
	ID      string
	Title   string
	ModTime time.Time
	Turns   int
}

// Directory is a read-mostly view over the session store.
type Directory struct {
	store      *session.Store
	summarizer Summarizer

	mu      sync.Mutex
	titles  map[string]string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Directory over store using summarizer for titles.
func New(store *session.Store, summarizer Summarizer) *Directory {
	return &Directory{
		store:      store,
		summarizer: summarizer,
		titles:     make(map[string]string),
	}
}

// Watch starts invalidating cached titles when session files change.
func (d *Directory) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(d.store.Dir()); err != nil {
		watcher.Close()
		return err
	}

	d.watcher = watcher
	d.done = make(chan struct{})
	go d.watchLoop()

	log.Debug().Str("dir", d.store.Dir()).Msg("Watching sessions directory")
	return nil
}

// Close stops the watcher if one is running.
func (d *Directory) Close() error {
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	<-d.done
	d.watcher = nil
	return err
}

func (d *Directory) watchLoop() {
	defer close(d.done)
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if id, isRecord := sessionIDFromPath(event.Name); isRecord {
				d.invalidate(id)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Session watcher error")
		}
	}
}

func sessionIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

func (d *Directory) invalidate(id string) {
	d.mu.Lock()
	delete(d.titles, id)
	d.mu.Unlock()
}

func (d *Directory) title(ctx context.Context, id string, turns []session.Turn) string {
	d.mu.Lock()
	cached, ok := d.titles[id]
	d.mu.Unlock()
	if ok {
		return cached
	}

	title := d.summarizer.Summarize(ctx, turns)
	d.mu.Lock()
	d.titles[id] = title
	d.mu.Unlock()
	return title
}

// Entries lists all sessions, most recently modified first.
func (d *Directory) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := d.store.List()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		rec, err := d.store.Load(id)
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		modTime, err := d.store.Stat(id)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:      id,
			Title:   d.title(ctx, id, rec.Turns),
			ModTime: modTime,
			Turns:   len(rec.Turns),
		})
	}
	return entries, nil
}

// Delete removes the session record and its artifacts.
func (d *Directory) Delete(id string) error {
	if err := d.store.Delete(id); err != nil {
		return err
	}
	d.invalidate(id)
	return nil
}
