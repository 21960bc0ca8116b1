package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// ErrScrapeNotFound is returned when no row matches {org, scrapeID}.
var ErrScrapeNotFound = errors.New("scrape record not found")

// ScrapeStoreConfig controls the Postgres connection pool used for scrape rows.
type ScrapeStoreConfig struct {
	DSN             string
	DedupHorizon    time.Duration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ScrapeStore persists scrape records and content-hash sightings in Postgres.
type ScrapeStore struct {
	pool    queryExecCloser
	horizon time.Duration
}

// NewScrapeStore creates a Postgres-backed ScrapeStore using the provided config.
func NewScrapeStore(ctx context.Context, cfg ScrapeStoreConfig) (*ScrapeStore, error) {
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
	horizon := cfg.DedupHorizon
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	return &ScrapeStore{pool: pool, horizon: horizon}, nil
}

// NewScrapeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewScrapeStoreWithPool(pool queryExecCloser, horizon time.Duration) (*ScrapeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	return &ScrapeStore{pool: pool, horizon: horizon}, nil
}

// Close releases the underlying pool resources.
func (s *ScrapeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveScrape upserts a scrape row, bumping the scrape count on conflict.
func (s *ScrapeStore) SaveScrape(ctx context.Context, record scrape.ScrapeRecord) error {
	if record.ScrapeID == "" {
		return fmt.Errorf("scrape id is required")
	}
	query := `
INSERT INTO scrapes (
	scrape_id,
	organization_id,
	url,
	platform,
	content_hash,
	blob_uri,
	scrape_count,
	fetched_at,
	expires_at,
	flagged_for_deletion
) VALUES ($1,$2,$3,$4,$5,$6,1,$7,$8,$9)
ON CONFLICT (organization_id, scrape_id) DO UPDATE SET
	url = EXCLUDED.url,
	platform = EXCLUDED.platform,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri,
	scrape_count = scrapes.scrape_count + 1,
	fetched_at = EXCLUDED.fetched_at,
	expires_at = EXCLUDED.expires_at`
	_, err := s.pool.Exec(ctx, query,
		record.ScrapeID,
		record.OrganizationID,
		record.URL,
		record.Platform,
		record.ContentHash,
		record.BlobURI,
		record.FetchedAt,
		record.ExpiresAt,
		record.FlaggedForDeletion,
	)
	if err != nil {
		return fmt.Errorf("upsert scrape: %w", err)
	}
	return nil
}

// GetScrape fetches a record by {org, scrapeID}.
func (s *ScrapeStore) GetScrape(ctx context.Context, organizationID, scrapeID string) (scrape.ScrapeRecord, error) {
	query := `
SELECT
	scrape_id,
	organization_id,
	url,
	platform,
	content_hash,
	blob_uri,
	scrape_count,
	fetched_at,
	expires_at,
	flagged_for_deletion
FROM scrapes
WHERE organization_id = $1 AND scrape_id = $2`
	var record scrape.ScrapeRecord
	err := s.pool.QueryRow(ctx, query, organizationID, scrapeID).Scan(
		&record.ScrapeID,
		&record.OrganizationID,
		&record.URL,
		&record.Platform,
		&record.ContentHash,
		&record.BlobURI,
		&record.ScrapeCount,
		&record.FetchedAt,
		&record.ExpiresAt,
		&record.FlaggedForDeletion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.ScrapeRecord{}, ErrScrapeNotFound
	}
	if err != nil {
		return scrape.ScrapeRecord{}, fmt.Errorf("select scrape: %w", err)
	}
	return record, nil
}

// ObserveContent records a content-hash sighting and counts sightings still
// inside the dedup horizon.
func (s *ScrapeStore) ObserveContent(ctx context.Context, hash string, now time.Time) (int, bool, error) {
	insert := `INSERT INTO content_sightings (content_hash, seen_at) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, insert, hash, now); err != nil {
		return 0, false, fmt.Errorf("insert content sighting: %w", err)
	}
	count := 0
	query := `SELECT COUNT(*) FROM content_sightings WHERE content_hash = $1 AND seen_at > $2`
	err := s.pool.QueryRow(ctx, query, hash, now.Add(-s.horizon)).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("count content sightings: %w", err)
	}
	return count, count > 1, nil
}

// FlagForDeletion marks a record so a retention sweep can remove its content.
func (s *ScrapeStore) FlagForDeletion(ctx context.Context, organizationID, scrapeID string) error {
	query := `
UPDATE scrapes
SET flagged_for_deletion = TRUE
WHERE organization_id = $1 AND scrape_id = $2`
	tag, err := s.pool.Exec(ctx, query, organizationID, scrapeID)
	if err != nil {
		return fmt.Errorf("flag scrape for deletion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScrapeNotFound
	}
	return nil
}
