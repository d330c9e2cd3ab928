// Package maintenance runs periodic upkeep on the staging directory and
// durable store: sweeping orphaned temp files and checkpointing the WAL,
// scheduled with robfig/cron.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maauso/mediaqueue/internal/pathsafety"
	"github.com/maauso/mediaqueue/internal/pathsafety/erase"
)

// Sweeper periodically cleans temp/ of files older than MaxAge and issues
// a WAL checkpoint against the durable store's connection.
type Sweeper struct {
	TempDir string
	MaxAge  time.Duration
	DB      *sql.DB
	Logger  *slog.Logger

	// SecureErase, when true, overwrites each swept temp file before
	// unlinking it (see internal/pathsafety/erase). Otherwise a plain
	// unlink is used.
	SecureErase bool

	cron *cron.Cron
}

// Start schedules the sweep to run on spec (standard 5-field cron syntax,
// e.g. "0 */1 * * *" for hourly) and returns immediately; call Stop to
// halt it.
func (s *Sweeper) Start(spec string) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.Run(context.Background()); err != nil {
			s.Logger.Error("maintenance sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Run performs one sweep pass: delete files in TempDir older than MaxAge,
// then checkpoint the WAL.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	removed, err := s.sweepTemp()
	if err != nil {
		return fmt.Errorf("maintenance: sweep temp: %w", err)
	}
	if err := s.checkpointWAL(ctx); err != nil {
		return fmt.Errorf("maintenance: checkpoint wal: %w", err)
	}
	s.Logger.Info("maintenance sweep complete", "removed", removed)
	return nil
}

func (s *Sweeper) sweepTemp() (int, error) {
	if s.TempDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-s.MaxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.TempDir, entry.Name())
		if !pathsafety.IsSafe(path, s.TempDir) {
			s.Logger.Warn("maintenance: path rejected by path-safety gate, skipping", "path", path)
			continue
		}
		if err := erase.Unlink(path, s.SecureErase); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Sweeper) checkpointWAL(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}
