package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acme/data-dash/internal/storage"
)

// Writer persists check executions.
type Writer interface {
	Record(Entry) error
	Close() error
}

// FileWriter implements Writer by appending JSONL to a file.
type FileWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
}

// NewFileWriter opens (or creates) the file at path for append-only writing.
// Missing parent directories are created. If logger is nil, a no-op logger
// is used.
func NewFileWriter(path string, logger *slog.Logger) (*FileWriter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &FileWriter{
		path:   path,
		file:   f,
		logger: logger,
	}, nil
}

// Record marshals the entry as JSON and appends it as a single line.
func (w *FileWriter) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	_, err = w.file.Write(data)
	if err != nil {
		w.logger.Error("failed to write history entry", "error", err)
	}
	return err
}

// Close closes the underlying file handle.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// NoopWriter is a Writer that discards all entries.
type NoopWriter struct{}

// Record discards the entry and returns nil.
func (NoopWriter) Record(Entry) error { return nil }

// Close is a no-op and returns nil.
func (NoopWriter) Close() error { return nil }

// ResultSaver is the slice of storage.Store the database writer needs.
type ResultSaver interface {
	SaveResult(ctx context.Context, r *storage.CheckResult) (uint64, error)
}

// DBWriter records entries as database rows. Each write gets its own
// timeout so a cancelled request does not lose its result.
type DBWriter struct {
	store   ResultSaver
	timeout time.Duration
}

// NewDBWriter returns a DBWriter with a 5s write timeout.
func NewDBWriter(store ResultSaver) *DBWriter {
	return &DBWriter{store: store, timeout: 5 * time.Second}
}

func (w *DBWriter) Record(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	r := e.Result()
	if _, err := w.store.SaveResult(ctx, &r); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (w *DBWriter) Close() error { return nil }

// Publisher receives entries for live fan-out.
type Publisher interface {
	Publish(Entry)
}

// PublishWriter forwards entries to a Publisher.
type PublishWriter struct {
	p Publisher
}

// NewPublishWriter wraps p.
func NewPublishWriter(p Publisher) PublishWriter { return PublishWriter{p: p} }

func (w PublishWriter) Record(e Entry) error {
	w.p.Publish(e)
	return nil
}

func (PublishWriter) Close() error { return nil }

// MultiWriter records to every writer in order. A failing writer does not
// stop the rest; all errors are joined.
type MultiWriter []Writer

func (m MultiWriter) Record(e Entry) error {
	var errs []error
	for _, w := range m {
		if err := w.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
