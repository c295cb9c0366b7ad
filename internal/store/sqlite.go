package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so last_used compares correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLite is the embedded Repository backed by modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Repository = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database file at path and
// applies pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s, err := NewSQLite(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite migrates db and wraps it.
func NewSQLite(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLite, error) {
	log := logger.Named("store.sqlite")
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, db, goose.DialectSQLite3, log); err != nil {
		return nil, err
	}
	return &SQLite{db: db, log: log}, nil
}

const sqliteUpsertSQL = `
        INSERT INTO action_sequences (task_key, user_id, actions, success_rate, execution_count, avg_execution_time, metadata, last_used)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (task_key, user_id) DO UPDATE SET
            actions = excluded.actions,
            success_rate = excluded.success_rate,
            execution_count = excluded.execution_count,
            avg_execution_time = excluded.avg_execution_time,
            metadata = excluded.metadata,
            last_used = excluded.last_used
    `

func (s *SQLite) Upsert(ctx context.Context, userID string, seq *schemas.ActionSequence) error {
	row, err := encodeRow(seq)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertSQL,
		seq.TaskKey, userID, row.actions,
		seq.SuccessRate, seq.ExecutionCount, seq.AvgExecutionTime,
		row.metadata, seq.LastUsed.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sequence %q: %w", seq.TaskKey, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, userID, taskKey string) (*schemas.ActionSequence, error) {
	query := `SELECT ` + selectColumns + ` FROM action_sequences WHERE user_id = ? AND task_key = ?`
	seq, err := scanSQLite(s.db.QueryRowContext(ctx, query, userID, taskKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence %q: %w", taskKey, err)
	}
	return seq, nil
}

func (s *SQLite) ListByUser(ctx context.Context, userID string) ([]*schemas.ActionSequence, error) {
	query := `SELECT ` + selectColumns + ` FROM action_sequences WHERE user_id = ? ORDER BY last_used DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	defer rows.Close()

	var out []*schemas.ActionSequence
	for rows.Next() {
		seq, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence row: %w", err)
		}
		out = append(out, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLite) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_sequences`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sequences: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_sequences WHERE last_used < ?`,
		before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sequences: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.Debug("Removed stale sequences", zap.Int64("rows", n), zap.Time("before", before))
	return n, nil
}

func (s *SQLite) Stats(ctx context.Context) (schemas.CacheStats, error) {
	var st schemas.CacheStats
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COALESCE(AVG(success_rate), 0.0),
               COALESCE(AVG(execution_count), 0.0),
               COALESCE(AVG(avg_execution_time), 0.0)
        FROM action_sequences
    `).Scan(&st.Total, &st.AvgSuccessRate, &st.AvgExecutions, &st.AvgExecutionTime)
	if err != nil {
		return schemas.CacheStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*schemas.ActionSequence, error) {
	var (
		seq      schemas.ActionSequence
		actions  string
		metadata string
		lastUsed string
	)
	err := row.Scan(&seq.TaskKey, &actions, &seq.SuccessRate, &seq.ExecutionCount,
		&seq.AvgExecutionTime, &metadata, &lastUsed)
	if err != nil {
		return nil, err
	}
	seq.LastUsed, err = time.Parse(sqliteTimeLayout, lastUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_used %q: %w", lastUsed, err)
	}
	if err := decodeRow(&seq, actions, metadata); err != nil {
		return nil, err
	}
	return &seq, nil
}
