package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"promptcompiler/internal/model"
)

// BadgerConfig holds configuration for the embedded key-value backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps all data in RAM; it is lost on Close.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore keeps each record under "<kind>:<id>" and a time index under
// "index:<kind>:<created-unix-nano>:<id>" for newest-first listing.
type BadgerStore struct {
	cfg BadgerConfig

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(cfg BadgerConfig) *BadgerStore {
	return &BadgerStore{cfg: cfg}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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

// OpenBadger opens a badger database the way every badger-backed component
// in this module configures it.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

func (s *BadgerStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db != nil {
		return nil
	}
	db, err := OpenBadger(s.cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *BadgerStore) SaveAnalysis(ctx context.Context, record model.AnalysisRecord) error {
	payload, err := EncodeAnalysis(record)
	if err != nil {
		return err
	}
	return s.put(ctx, model.KindAnalysis, record.ID, record.CreatedAt, payload)
}

func (s *BadgerStore) GetAnalysis(ctx context.Context, id string) (model.AnalysisRecord, bool, error) {
	payload, ok, err := s.get(ctx, model.KindAnalysis, id)
	if err != nil || !ok {
		return model.AnalysisRecord{}, false, err
	}
	record, err := DecodeAnalysis(payload)
	if err != nil {
		return model.AnalysisRecord{}, false, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return record, true, nil
}

func (s *BadgerStore) SaveComparison(ctx context.Context, record model.ComparisonRecord) error {
	payload, err := EncodeComparison(record)
	if err != nil {
		return err
	}
	return s.put(ctx, model.KindComparison, record.ID, record.CreatedAt, payload)
}

func (s *BadgerStore) GetComparison(ctx context.Context, id string) (model.ComparisonRecord, bool, error) {
	payload, ok, err := s.get(ctx, model.KindComparison, id)
	if err != nil || !ok {
		return model.ComparisonRecord{}, false, err
	}
	record, err := DecodeComparison(payload)
	if err != nil {
		return model.ComparisonRecord{}, false, fmt.Errorf("decode comparison %s: %w", id, err)
	}
	return record, true, nil
}

func (s *BadgerStore) SaveOptimization(ctx context.Context, record model.OptimizationRecord) error {
	payload, err := EncodeOptimization(record)
	if err != nil {
		return err
	}
	return s.put(ctx, model.KindOptimization, record.ID, record.CreatedAt, payload)
}

func (s *BadgerStore) GetOptimization(ctx context.Context, id string) (model.OptimizationRecord, bool, error) {
	payload, ok, err := s.get(ctx, model.KindOptimization, id)
	if err != nil || !ok {
		return model.OptimizationRecord{}, false, err
	}
	record, err := DecodeOptimization(payload)
	if err != nil {
		return model.OptimizationRecord{}, false, fmt.Errorf("decode optimization %s: %w", id, err)
	}
	return record, true, nil
}

func (s *BadgerStore) SaveSnapshot(ctx context.Context, snapshot model.WeightSnapshot) error {
	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return s.put(ctx, model.KindSnapshot, snapshot.ID, snapshot.CreatedAt, payload)
}

func (s *BadgerStore) GetSnapshot(ctx context.Context, id string) (model.WeightSnapshot, bool, error) {
	payload, ok, err := s.get(ctx, model.KindSnapshot, id)
	if err != nil || !ok {
		return model.WeightSnapshot{}, false, err
	}
	snapshot, err := DecodeSnapshot(payload)
	if err != nil {
		return model.WeightSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snapshot, true, nil
}

// ListRecords walks each kind's time index in reverse and stops at limit.
func (s *BadgerStore) ListRecords(ctx context.Context, kind model.RecordKind, limit int) ([]model.RecordSummary, error) {
	kinds, err := kindsFor(kind)
	if err != nil {
		return nil, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.RecordSummary
	err = db.View(func(txn *badger.Txn) error {
		for _, k := range kinds {
			prefix := indexPrefix(k)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Reverse = true

			it := txn.NewIterator(opts)
			count := 0
			for it.Seek(append(append([]byte(nil), prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
				if limit > 0 && count >= limit {
					break
				}
				id := indexID(prefix, it.Item().Key())
				item, err := txn.Get(recordKey(k, id))
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					it.Close()
					return err
				}
				payload, err := item.ValueCopy(nil)
				if err != nil {
					it.Close()
					return err
				}
				summary, err := DecodeSummary(k, payload)
				if err != nil {
					it.Close()
					return fmt.Errorf("decode %s %s: %w", k, id, err)
				}
				out = append(out, summary)
				count++
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(out)
	return truncate(out, limit), nil
}

func (s *BadgerStore) DeleteRecord(ctx context.Context, kind model.RecordKind, id string) (bool, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return false, err
	}
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err = db.Update(func(txn *badger.Txn) error {
		old, ok, err := existingIndexKey(txn, kind, id)
		if err != nil || !ok {
			return err
		}
		found = true
		if err := txn.Delete(old); err != nil {
			return err
		}
		return txn.Delete(recordKey(kind, id))
	})
	return found, err
}

func (s *BadgerStore) Stats(ctx context.Context) (model.Stats, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Stats{}, err
	}

	stats := model.Stats{Backend: "badger", Counts: make(map[model.RecordKind]int, len(model.Kinds))}
	err = db.View(func(txn *badger.Txn) error {
		for _, k := range model.Kinds {
			prefix := indexPrefix(k)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			n := 0
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				n++
			}
			it.Close()
			stats.Counts[k] = n
		}
		return nil
	})
	if err != nil {
		return model.Stats{}, err
	}
	return stats, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// put writes the record and moves its index entry when an earlier version
// carried a different timestamp.
func (s *BadgerStore) put(ctx context.Context, kind model.RecordKind, id string, createdAt time.Time, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		old, ok, err := existingIndexKey(txn, kind, id)
		if err != nil {
			return err
		}
		if ok {
			if err := txn.Delete(old); err != nil {
				return err
			}
		}
		if err := txn.Set(recordKey(kind, id), payload); err != nil {
			return err
		}
		return txn.Set(indexKey(kind, createdAt, id), nil)
	})
}

func (s *BadgerStore) get(ctx context.Context, kind model.RecordKind, id string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(kind, id))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

// existingIndexKey finds the index entry of a stored record by decoding its
// creation time.
func existingIndexKey(txn *badger.Txn, kind model.RecordKind, id string) ([]byte, bool, error) {
	item, err := txn.Get(recordKey(kind, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	payload, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	summary, err := DecodeSummary(kind, payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return indexKey(kind, summary.CreatedAt, id), true, nil
}

func recordKey(kind model.RecordKind, id string) []byte {
	return []byte(string(kind) + ":" + id)
}

func indexPrefix(kind model.RecordKind) []byte {
	return []byte("index:" + string(kind) + ":")
}

func indexKey(kind model.RecordKind, createdAt time.Time, id string) []byte {
	var nanos int64
	if !createdAt.IsZero() && createdAt.Unix() > 0 {
		nanos = createdAt.UnixNano()
	}
	return []byte(fmt.Sprintf("%s%020d:%s", indexPrefix(kind), nanos, id))
}

// indexID strips the prefix, the 20-digit timestamp and its separator.
func indexID(prefix, key []byte) string {
	return string(key[len(prefix)+21:])
}
