package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres is the PostgreSQL Repository.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ Repository = (*Postgres)(nil)

// NewPostgres wraps pool and verifies the connection. The schema must already
// be migrated (see Migrate).
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

const pgUpsertSQL = `
        INSERT INTO action_sequences (task_key, user_id, actions, success_rate, execution_count, avg_execution_time, metadata, last_used)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (task_key, user_id) DO UPDATE SET
            actions = EXCLUDED.actions,
            success_rate = EXCLUDED.success_rate,
            execution_count = EXCLUDED.execution_count,
            avg_execution_time = EXCLUDED.avg_execution_time,
            metadata = EXCLUDED.metadata,
            last_used = EXCLUDED.last_used;
    `

func (p *Postgres) Upsert(ctx context.Context, userID string, seq *schemas.ActionSequence) error {
	row, err := encodeRow(seq)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, pgUpsertSQL,
		seq.TaskKey, userID, row.actions,
		seq.SuccessRate, seq.ExecutionCount, seq.AvgExecutionTime,
		row.metadata, seq.LastUsed.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sequence %q: %w", seq.TaskKey, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, userID, taskKey string) (*schemas.ActionSequence, error) {
	query := `SELECT ` + selectColumns + ` FROM action_sequences WHERE user_id = $1 AND task_key = $2`
	seq, err := scanPostgres(p.pool.QueryRow(ctx, query, userID, taskKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence %q: %w", taskKey, err)
	}
	return seq, nil
}

func (p *Postgres) ListByUser(ctx context.Context, userID string) ([]*schemas.ActionSequence, error) {
	query := `SELECT ` + selectColumns + ` FROM action_sequences WHERE user_id = $1 ORDER BY last_used DESC`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	defer rows.Close()

	var out []*schemas.ActionSequence
	for rows.Next() {
		seq, err := scanPostgres(rows)
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

func (p *Postgres) Clear(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM action_sequences`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sequences: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM action_sequences WHERE last_used < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sequences: %w", err)
	}
	p.log.Debug("Removed stale sequences", zap.Int64("rows", tag.RowsAffected()), zap.Time("before", before))
	return tag.RowsAffected(), nil
}

const pgStatsSQL = `
        SELECT COUNT(*),
               COALESCE(AVG(success_rate), 0)::float8,
               COALESCE(AVG(execution_count), 0)::float8,
               COALESCE(AVG(avg_execution_time), 0)::float8
        FROM action_sequences
    `

func (p *Postgres) Stats(ctx context.Context) (schemas.CacheStats, error) {
	var st schemas.CacheStats
	var total int64
	err := p.pool.QueryRow(ctx, pgStatsSQL).Scan(&total, &st.AvgSuccessRate, &st.AvgExecutions, &st.AvgExecutionTime)
	if err != nil {
		return schemas.CacheStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	st.Total = int(total)
	return st, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*schemas.ActionSequence, error) {
	var (
		seq      schemas.ActionSequence
		actions  string
		metadata string
	)
	err := row.Scan(&seq.TaskKey, &actions, &seq.SuccessRate, &seq.ExecutionCount,
		&seq.AvgExecutionTime, &metadata, &seq.LastUsed)
	if err != nil {
		return nil, err
	}
	seq.LastUsed = seq.LastUsed.UTC()
	if err := decodeRow(&seq, actions, metadata); err != nil {
		return nil, err
	}
	return &seq, nil
}
