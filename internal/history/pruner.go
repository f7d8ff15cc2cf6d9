package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"
)

// DefaultRetentionDays applies when a non-positive retention is configured.
const DefaultRetentionDays = 30

func retention(days int) time.Duration {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Prune removes entries older than retentionDays from the JSONL file at path.
// It uses an atomic temp-file-and-rename strategy to avoid data loss. If
// retentionDays is <= 0 the default of 30 days is used.
func Prune(path string, retentionDays int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	entries, err := ReadAll(path)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-retention(retentionDays))

	var kept []Entry
	for _, e := range entries {
		if !e.ExecutedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}

	removed := len(entries) - len(kept)
	if removed == 0 {
		logger.Info("history prune: nothing to remove",
			"total", len(entries),
		)
		return nil
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	for _, e := range kept {
		data, merr := json.Marshal(e)
		if merr != nil {
			f.Close()
			os.Remove(tmpPath)
			return merr
		}
		data = append(data, '\n')
		if _, werr := f.Write(data); werr != nil {
			f.Close()
			os.Remove(tmpPath)
			return werr
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	logger.Info("history prune complete",
		"before", len(entries),
		"after", len(kept),
		"removed", removed,
	)
	return nil
}

// ResultDeleter is the slice of storage.Store the pruner needs.
type ResultDeleter interface {
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner runs periodic history pruning over the database and, when a path
// is set, the JSONL mirror.
type Pruner struct {
	store         ResultDeleter
	path          string
	retentionDays int
	logger        *slog.Logger
}

// NewPruner creates a Pruner removing entries older than retentionDays.
// Either store or path may be empty.
func NewPruner(store ResultDeleter, path string, retentionDays int, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pruner{
		store:         store,
		path:          path,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run prunes immediately, then repeats every 24 hours until ctx is
// cancelled.
func (p *Pruner) Run(ctx context.Context) {
	p.runOnce(ctx)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Pruner) runOnce(ctx context.Context) {
	if p.store != nil {
		cutoff := time.Now().Add(-retention(p.retentionDays))
		n, err := p.store.DeleteResultsBefore(ctx, cutoff)
		if err != nil {
			p.logger.Warn("history prune failed", "target", "database", "error", err)
		} else {
			p.logger.Info("history prune complete", "target", "database", "removed", n)
		}
	}
	if p.path != "" {
		if err := Prune(p.path, p.retentionDays, p.logger); err != nil {
			p.logger.Warn("history prune failed", "target", "file", "error", err)
		}
	}
}
