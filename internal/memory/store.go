package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"soschat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists dispatch records. It implements domain.AuditRecorder.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditRecorder = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: dispatches may finish concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec domain.DispatchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (request_id, tool, status, kind, error, source, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Tool, string(rec.Status), string(rec.Kind), rec.Error, rec.Source,
		rec.DurationMs, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// RecentDispatches returns the newest records first.
func (s *SQLiteStore) RecentDispatches(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, tool, status, kind, error, source, duration_ms, created_at
		 FROM dispatches ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.DispatchRecord
	for rows.Next() {
		var (
			r         domain.DispatchRecord
			status    string
			kind      string
			createdMs int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Tool, &status, &kind, &r.Error, &r.Source,
			&r.DurationMs, &createdMs); err != nil {
			return nil, err
		}
		r.Status = domain.Status(status)
		r.Kind = domain.ErrorKind(kind)
		r.CreatedAt = time.UnixMilli(createdMs)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats returns success and failure counts per tool, ordered by tool name.
func (s *SQLiteStore) Stats(ctx context.Context) ([]domain.DispatchStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool,
		        SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN status = 'success' THEN 0 ELSE 1 END)
		 FROM dispatches GROUP BY tool ORDER BY tool`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.DispatchStats
	for rows.Next() {
		var st domain.DispatchStats
		if err := rows.Scan(&st.Tool, &st.Successes, &st.Failures); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Prune deletes records older than retentionDays and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention must be at least 1 day, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned dispatch records", "count", n, "retention_days", retentionDays)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
