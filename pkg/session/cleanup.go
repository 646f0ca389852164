package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCleanupAge is how long an idle session survives before pruning.
const DefaultCleanupAge = 30 * 24 * time.Hour

// Cleanup prunes idle sessions on a cron schedule.
type Cleanup struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewCleanup creates a cleanup job for the store. schedule is a standard
// five-field cron expression.
func NewCleanup(store *Store, schedule string, maxAge time.Duration) *Cleanup {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	return &Cleanup{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
	}
}

// Start schedules the pruning job.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.Prune(); err != nil {
			log.Error().Err(err).Msg("Failed to prune old sessions")
		}
	}); err != nil {
		c.cron = nil
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()

	log.Info().
		Str("schedule", c.schedule).
		Dur("max_age", c.maxAge).
		Msg("Session cleanup started")

	return nil
}

// Stop halts scheduled pruning.
func (c *Cleanup) Stop() error {
	if c.cron == nil {
		return fmt.Errorf("cleanup is not running")
	}

	c.cron.Stop()
	c.cron = nil

	log.Info().Msg("Session cleanup stopped")

	return nil
}

// Prune deletes sessions idle for longer than the configured age.
func (c *Cleanup) Prune() error {
	ids, err := c.store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, id := range ids {
		modTime, err := c.store.Stat(id)
		if err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Failed to stat session")
			continue
		}

		age := now.Sub(modTime)
		if age < c.maxAge {
			continue
		}

		if err := c.store.Delete(id); err != nil {
			log.Error().Str("session_id", id).Err(err).Msg("Failed to delete session")
			continue
		}
		deleted++

		log.Debug().
			Str("session_id", id).
			Dur("age", age).
			Msg("Stale session pruned")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Cleaned up old sessions")
	}

	return nil
}
