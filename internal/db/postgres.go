package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/trace-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside the runtime image without shipping the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists traces in PostgreSQL via pgx. It satisfies
// the scheduler's TraceStore contract; the pool is safe for concurrent
// use across trace IDs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Info().Msg("connected to PostgreSQL trace store")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Info().Msg("trace schema initialized")
	return nil
}

// Save upserts a trace record, replacing its status and attached
// report on transition.
func (s *PostgresStore) Save(ctx context.Context, trace models.Trace) error {
	var report []byte
	if trace.Result != nil {
		var err error
		report, err = json.Marshal(trace.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %v", err)
		}
	}

	sql := `
		INSERT INTO traces
		(id, wallet_address, cryptocurrency, is_premium, status, submitted_at, estimated_completion, completed_at, failure_reason, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		estimated_completion = EXCLUDED.estimated_completion,
		completed_at = EXCLUDED.completed_at,
		failure_reason = EXCLUDED.failure_reason,
		report = EXCLUDED.report;
	`
	_, err := s.pool.Exec(ctx, sql,
		trace.ID,
		trace.WalletAddress,
		trace.Cryptocurrency,
		trace.IsPremium,
		string(trace.Status),
		trace.SubmittedAt,
		trace.EstimatedCompletion,
		trace.CompletedAt,
		trace.FailureReason,
		report,
	)
	if err != nil {
		return fmt.Errorf("failed to save trace %s: %v", trace.ID, err)
	}
	return nil
}

// Load fetches one trace by ID.
func (s *PostgresStore) Load(ctx context.Context, id string) (models.Trace, error) {
	sql := `
		SELECT id, wallet_address, cryptocurrency, is_premium, status, submitted_at, estimated_completion, completed_at, failure_reason, report
		FROM traces WHERE id = $1;
	`
	trace, err := scanTrace(s.pool.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Trace{}, models.ErrTraceNotFound
	}
	return trace, err
}

// Delete removes a trace record (cancel-before-processing path).
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM traces WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTraceNotFound
	}
	return nil
}

// ListByStatus returns all traces in the given state, oldest first so
// batch sweeps process in submission order.
func (s *PostgresStore) ListByStatus(ctx context.Context, status models.TraceStatus) ([]models.Trace, error) {
	sql := `
		SELECT id, wallet_address, cryptocurrency, is_premium, status, submitted_at, estimated_completion, completed_at, failure_reason, report
		FROM traces WHERE status = $1 ORDER BY submitted_at ASC;
	`
	rows, err := s.pool.Query(ctx, sql, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []models.Trace
	for rows.Next() {
		trace, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, rows.Err()
}

func scanTrace(row pgx.Row) (models.Trace, error) {
	var trace models.Trace
	var status string
	var report []byte
	err := row.Scan(
		&trace.ID,
		&trace.WalletAddress,
		&trace.Cryptocurrency,
		&trace.IsPremium,
		&status,
		&trace.SubmittedAt,
		&trace.EstimatedCompletion,
		&trace.CompletedAt,
		&trace.FailureReason,
		&report,
	)
	if err != nil {
		return models.Trace{}, err
	}
	trace.Status = models.TraceStatus(status)
	if len(report) > 0 {
		var result models.TraceReport
		if err := json.Unmarshal(report, &result); err != nil {
			return models.Trace{}, fmt.Errorf("failed to unmarshal report for trace %s: %v", trace.ID, err)
		}
		trace.Result = &result
	}
	return trace, nil
}
