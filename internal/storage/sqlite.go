//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"promptcompiler/internal/model"

	_ "modernc.org/sqlite"
)

var sqliteTables = map[model.RecordKind]string{
	model.KindAnalysis:     "analyses",
	model.KindComparison:   "comparisons",
	model.KindOptimization: "optimizations",
	model.KindSnapshot:     "snapshots",
}

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, record model.AnalysisRecord) error {
	payload, err := EncodeAnalysis(record)
	if err != nil {
		return err
	}
	return s.upsert(ctx, model.KindAnalysis, record.ID, record.CreatedAt.UnixNano(), record.VersionedRecord, payload)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (model.AnalysisRecord, bool, error) {
	payload, ok, err := s.payload(ctx, model.KindAnalysis, id)
	if err != nil || !ok {
		return model.AnalysisRecord{}, false, err
	}
	record, err := DecodeAnalysis(payload)
	if err != nil {
		return model.AnalysisRecord{}, false, fmt.Errorf("decode analysis %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveComparison(ctx context.Context, record model.ComparisonRecord) error {
	payload, err := EncodeComparison(record)
	if err != nil {
		return err
	}
	return s.upsert(ctx, model.KindComparison, record.ID, record.CreatedAt.UnixNano(), record.VersionedRecord, payload)
}

func (s *SQLiteStore) GetComparison(ctx context.Context, id string) (model.ComparisonRecord, bool, error) {
	payload, ok, err := s.payload(ctx, model.KindComparison, id)
	if err != nil || !ok {
		return model.ComparisonRecord{}, false, err
	}
	record, err := DecodeComparison(payload)
	if err != nil {
		return model.ComparisonRecord{}, false, fmt.Errorf("decode comparison %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveOptimization(ctx context.Context, record model.OptimizationRecord) error {
	payload, err := EncodeOptimization(record)
	if err != nil {
		return err
	}
	return s.upsert(ctx, model.KindOptimization, record.ID, record.CreatedAt.UnixNano(), record.VersionedRecord, payload)
}

func (s *SQLiteStore) GetOptimization(ctx context.Context, id string) (model.OptimizationRecord, bool, error) {
	payload, ok, err := s.payload(ctx, model.KindOptimization, id)
	if err != nil || !ok {
		return model.OptimizationRecord{}, false, err
	}
	record, err := DecodeOptimization(payload)
	if err != nil {
		return model.OptimizationRecord{}, false, fmt.Errorf("decode optimization %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snapshot model.WeightSnapshot) error {
	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return s.upsert(ctx, model.KindSnapshot, snapshot.ID, snapshot.CreatedAt.UnixNano(), snapshot.VersionedRecord, payload)
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (model.WeightSnapshot, bool, error) {
	payload, ok, err := s.payload(ctx, model.KindSnapshot, id)
	if err != nil || !ok {
		return model.WeightSnapshot{}, false, err
	}
	snapshot, err := DecodeSnapshot(payload)
	if err != nil {
		return model.WeightSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snapshot, true, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, kind model.RecordKind, limit int) ([]model.RecordSummary, error) {
	kinds, err := kindsFor(kind)
	if err != nil {
		return nil, err
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var out []model.RecordSummary
	for _, k := range kinds {
		query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY created_at DESC, id DESC`, sqliteTables[k])
		args := []any{}
		if limit > 0 {
			query += ` LIMIT ?`
			args = append(args, limit)
		}
		summaries, err := querySummaries(ctx, db, k, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, summaries...)
	}
	sortSummaries(out)
	return truncate(out, limit), nil
}

func querySummaries(ctx context.Context, db *sql.DB, kind model.RecordKind, query string, args ...any) ([]model.RecordSummary, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecordSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		summary, err := DecodeSummary(kind, payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s summary: %w", kind, err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, kind model.RecordKind, id string) (bool, error) {
	table, ok := sqliteTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown record kind: %q", kind)
	}
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.Stats, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Stats{}, err
	}
	stats := model.Stats{Backend: "sqlite", Counts: make(map[model.RecordKind]int, len(sqliteTables))}
	for kind, table := range sqliteTables {
		var n int
		if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
			return model.Stats{}, err
		}
		stats.Counts[kind] = n
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) upsert(ctx context.Context, kind model.RecordKind, id string, createdAt int64, v model.VersionedRecord, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, sqliteTables[kind]), id, createdAt, v.SchemaVersion, v.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) payload(ctx context.Context, kind model.RecordKind, id string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, sqliteTables[kind]), id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, table := range sqliteTables {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id TEXT PRIMARY KEY,
				created_at INTEGER NOT NULL,
				schema_version INTEGER NOT NULL,
				codec_version INTEGER NOT NULL,
				payload BLOB NOT NULL
			);
			CREATE INDEX IF NOT EXISTS %[1]s_created_at ON %[1]s (created_at);
		`, table))
		if err != nil {
			return err
		}
	}
	return nil
}
