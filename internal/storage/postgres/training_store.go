package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StamperDavid/prospect-intel/internal/training"
)

const uniqueViolationCode = "23505"

// TrainingStoreConfig controls the Postgres connection pool used for
// training-data rows.
type TrainingStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TrainingStore persists training-data version history in Postgres. Every
// version is its own row; a unique constraint on
// (organization_id, signal_id, version) makes compare-and-swap writes safe
// across processes.
type TrainingStore struct {
	pool queryExecCloser
}

// NewTrainingStore creates a Postgres-backed TrainingStore using the provided config.
func NewTrainingStore(ctx context.Context, cfg TrainingStoreConfig) (*TrainingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TrainingStore{pool: pool}, nil
}

// NewTrainingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTrainingStoreWithPool(pool queryExecCloser) (*TrainingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TrainingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TrainingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const trainingColumns = `
	id,
	organization_id,
	signal_id,
	pattern,
	pattern_type,
	confidence,
	positive_count,
	negative_count,
	seen_count,
	version,
	active,
	created_at,
	last_updated_at,
	last_seen_at`

// Latest returns the highest-version record for a signal.
func (s *TrainingStore) Latest(ctx context.Context, organizationID, signalID string) (training.Data, error) {
	query := `
SELECT` + trainingColumns + `
FROM training_data
WHERE organization_id = $1 AND signal_id = $2
ORDER BY version DESC
LIMIT 1`
	row := s.pool.QueryRow(ctx, query, organizationID, signalID)
	record, err := scanTraining(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return training.Data{}, training.ErrNotFound
	}
	if err != nil {
		return training.Data{}, fmt.Errorf("select latest training row: %w", err)
	}
	return record, nil
}

// Insert stores version 1 of a new record. A concurrent creator loses on the
// unique constraint and reports a version conflict.
func (s *TrainingStore) Insert(ctx context.Context, record training.Data) error {
	query := `
INSERT INTO training_data (` + trainingColumns + `
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := s.pool.Exec(ctx, query, trainingArgs(record)...)
	if isUniqueViolation(err) {
		return training.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("insert training row: %w", err)
	}
	return nil
}

// CompareAndSwap appends the next version only if the stored head still
// carries expectedVersion. The guarded INSERT ... SELECT plus the unique
// constraint guarantee dense versions: exactly one of any set of racing
// writers lands each version.
func (s *TrainingStore) CompareAndSwap(ctx context.Context, record training.Data, expectedVersion int) error {
	if record.Version != expectedVersion+1 {
		return training.ErrVersionConflict
	}
	query := `
INSERT INTO training_data (` + trainingColumns + `
)
SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
WHERE (
	SELECT COALESCE(MAX(version), 0)
	FROM training_data
	WHERE organization_id = $2 AND signal_id = $3
) = $15`
	args := append(trainingArgs(record), expectedVersion)
	tag, err := s.pool.Exec(ctx, query, args...)
	if isUniqueViolation(err) {
		return training.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("compare-and-swap training row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return training.ErrVersionConflict
	}
	return nil
}

// History returns every stored version for a signal, oldest first.
func (s *TrainingStore) History(ctx context.Context, organizationID, signalID string) ([]training.Data, error) {
	query := `
SELECT` + trainingColumns + `
FROM training_data
WHERE organization_id = $1 AND signal_id = $2
ORDER BY version ASC`
	rows, err := s.pool.Query(ctx, query, organizationID, signalID)
	if err != nil {
		return nil, fmt.Errorf("select training history: %w", err)
	}
	defer rows.Close()

	var history []training.Data
	for rows.Next() {
		record, err := scanTraining(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}
		history = append(history, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training history: %w", err)
	}
	return history, nil
}

// AppendFeedback stores the raw feedback event for audit.
func (s *TrainingStore) AppendFeedback(ctx context.Context, event training.FeedbackEvent) error {
	query := `
INSERT INTO training_feedback (
	user_id,
	organization_id,
	signal_id,
	feedback_type,
	source_scrape_id,
	source_text,
	submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, query,
		event.UserID,
		event.OrganizationID,
		event.SignalID,
		string(event.FeedbackType),
		event.SourceScrapeID,
		event.SourceText,
		event.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feedback row: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTraining(row rowScanner) (training.Data, error) {
	var record training.Data
	var patternType string
	err := row.Scan(
		&record.ID,
		&record.OrganizationID,
		&record.SignalID,
		&record.Pattern,
		&patternType,
		&record.Confidence,
		&record.PositiveCount,
		&record.NegativeCount,
		&record.SeenCount,
		&record.Version,
		&record.Active,
		&record.CreatedAt,
		&record.LastUpdatedAt,
		&record.LastSeenAt,
	)
	if err != nil {
		return training.Data{}, err
	}
	record.PatternType = training.PatternType(patternType)
	return record, nil
}

func trainingArgs(record training.Data) []any {
	return []any{
		record.ID,
		record.OrganizationID,
		record.SignalID,
		record.Pattern,
		string(record.PatternType),
		record.Confidence,
		record.PositiveCount,
		record.NegativeCount,
		record.SeenCount,
		record.Version,
		record.Active,
		record.CreatedAt,
		record.LastUpdatedAt,
		record.LastSeenAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
