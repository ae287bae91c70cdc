package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const (
	DefaultSweepSchedule = "@every 10m"
	DefaultOrphanTTL     = time.Hour
)

// Sweep removes staging entries whose modification time is older than ttl.
// Younger files may belong to in-flight requests and are left alone.
func (s *Store) Sweep(now time.Time, ttl time.Duration) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || now.Sub(entry.ModTime()) <= ttl {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Sweeper periodically deletes orphaned staging files left by a crashed process.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. An empty schedule or non-positive ttl falls
// back to the defaults.
func NewSweeper(log *slog.Logger, store *Store, schedule string, ttl time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSweepSchedule
	}
	if ttl <= 0 {
		ttl = DefaultOrphanTTL
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
		logger:   log.With(slog.String("component", "sweeper")),
	}
}

// Start runs one sweep immediately and schedules the rest.
func (w *Sweeper) Start() error {
	w.RunOnce()
	if _, err := w.cron.AddFunc(w.schedule, w.RunOnce); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("staging sweeper started", slog.String("schedule", w.schedule), slog.Duration("ttl", w.ttl))
	return nil
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (w *Sweeper) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and logs the outcome.
func (w *Sweeper) RunOnce() {
	removed, err := w.store.Sweep(w.now(), w.ttl)
	if err != nil {
		w.logger.Warn("staging sweep failed", slog.Int("removed", removed), slog.Any("error", err))
		return
	}
	if removed > 0 {
		w.logger.Info("removed orphaned staging files", slog.Int("removed", removed))
	}
}
