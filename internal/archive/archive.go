// Package archive is a content-addressed store of trace files in BadgerDB.
//
// Traces are keyed by the sha256 of their bytes, the same hash a loaded trace
// and its replay report carry, so a report can always be traced back to the
// exact recording it replayed.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"nativereplay/internal/codec"
	"nativereplay/internal/trace"
)

const (
	dataPrefix = "trace/"
	metaPrefix = "meta/"

	// minPrefix is the shortest hash prefix Resolve accepts.
	minPrefix = 6
)

var (
	ErrNotFound  = errors.New("trace not in archive")
	ErrAmbiguous = errors.New("hash prefix is ambiguous")
)

// Config holds configuration for an archive.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps the archive in RAM. Useful for testing.
	InMemory bool

	// SyncWrites makes every Put durable before returning.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns a durable on-disk configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Entry describes one archived trace.
type Entry struct {
	Hash    string
	Size    int
	AddedAt time.Time
	Source  string
}

type meta struct {
	_       struct{} `cbor:",toarray"`
	Size    int
	AddedAt int64
	Source  string
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Archive is a content-addressed trace store. Safe for concurrent use.
type Archive struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens the archive described by cfg, creating it if needed.
func Open(cfg Config) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{db: db, now: time.Now}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Put stores data and returns its hash. Storing the same bytes twice keeps
// the first entry.
func (a *Archive) Put(ctx context.Context, data []byte, source string) (Entry, error) {
	if len(data) == 0 {
		return Entry{}, errors.New("archive: empty trace")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	hash := trace.Hash(data)
	entry := Entry{Hash: hash, Size: len(data), AddedAt: a.now().UTC(), Source: source}

	err := a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + hash))
		if err == nil {
			existing, err := readMeta(hash, item)
			if err != nil {
				return err
			}
			entry = existing
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		m, err := codec.Marshal(meta{Size: entry.Size, AddedAt: entry.AddedAt.UnixNano(), Source: source})
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if err := txn.Set([]byte(dataPrefix+hash), data); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+hash), m)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("archive put %s: %w", shortHash(hash), err)
	}
	return entry, nil
}

// Get returns the bytes stored under the full hash.
func (a *Archive) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataPrefix + hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("archive get %s: %w", shortHash(hash), err)
	}
	return data, nil
}

// Resolve expands a unique hash prefix to the full hash.
func (a *Archive) Resolve(ctx context.Context, prefix string) (string, error) {
	if len(prefix) < minPrefix {
		return "", fmt.Errorf("hash prefix %q shorter than %d characters", prefix, minPrefix)
	}
	var matches []string
	err := a.scan(ctx, metaPrefix+prefix, func(hash string, _ *badger.Item) error {
		matches = append(matches, hash)
		if len(matches) > 1 {
			return ErrAmbiguous
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrAmbiguous):
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	case err != nil:
		return "", err
	case len(matches) == 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return matches[0], nil
}

// List returns every entry ordered by hash.
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := a.scan(ctx, metaPrefix, func(hash string, item *badger.Item) error {
		e, err := readMeta(hash, item)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Archive) scan(ctx context.Context, prefix string, fn func(hash string, item *badger.Item) error) error {
	return a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			hash := strings.TrimPrefix(string(item.Key()), metaPrefix)
			if err := fn(hash, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func readMeta(hash string, item *badger.Item) (Entry, error) {
	var m meta
	err := item.Value(func(val []byte) error {
		return codec.Unmarshal(val, &m)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("metadata of %s: %w", shortHash(hash), err)
	}
	return Entry{Hash: hash, Size: m.Size, AddedAt: time.Unix(0, m.AddedAt).UTC(), Source: m.Source}, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
