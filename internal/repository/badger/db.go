// Package badger stores the catalog in an embedded BadgerDB. Each product is
// one JSON document that embeds its reviews, and every read-modify-write runs
// in an optimistic transaction that is retried on commit conflicts.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the embedded store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM; data is lost on Close.
	InMemory bool

	SyncWrites bool

	// ConflictRetries is how many times a conflicting write is retried
	// before the caller gets a Conflict error.
	ConflictRetries int

	// GCInterval is how often value-log GC runs for a persistent store.
	// Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		ConflictRetries: 10,
		GCInterval:      5 * time.Minute,
		GCDiscardRatio:  0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:        true,
		ConflictRetries: 10,
	}
}

// DB is an open store plus its GC runner.
type DB struct {
	db       *badgerdb.DB
	gc       *gcRunner
	retries  int
	logger   *slog.Logger
	closeErr error
	once     sync.Once
}

// Open opens the store described by cfg.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}
	if cfg.ConflictRetries < 0 {
		return nil, errors.New("conflict retries must not be negative")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&slogAdapter{logger: logger.With(slog.String("component", "badger"))})

	bdb, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	d := &DB{db: bdb, retries: cfg.ConflictRetries, logger: logger}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		d.gc = newGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		d.gc.start()
	}
	return d, nil
}

// Close stops GC and closes the store. Safe to call more than once.
func (d *DB) Close() error {
	d.once.Do(func() {
		if d.gc != nil {
			d.gc.stop()
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

// Ping reports whether the store still accepts transactions.
func (d *DB) Ping() error {
	if d.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return d.db.View(func(*badgerdb.Txn) error { return nil })
}

// slogAdapter routes Badger's internal logging through slog. Info and debug
// chatter from compactions is demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner triggers value-log GC on a fixed interval.
type gcRunner struct {
	db       *badgerdb.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badgerdb.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *gcRunner) collect() {
	// ErrNoRewrite just means there was nothing worth reclaiming.
	if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		r.logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("badger value log gc pass finished")
}
