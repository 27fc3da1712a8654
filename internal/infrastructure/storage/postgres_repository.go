package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
)

const (
	listingsTable   = "listings"
	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository stores listings in Postgres, keyed by external ID.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.ListingRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Exists reports whether a listing with externalID was stored before.
func (r *PostgresRepository) Exists(ctx context.Context, externalID int64) (bool, error) {
	query, args, err := psql.Select("1").
		From(listingsTable).
		Where(sq.Eq{"external_id": externalID}).
		Prefix("SELECT EXISTS(").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("query listing %d: %w", externalID, err)
	}

	return exists, nil
}

// Insert creates the listing and returns it with IngestedAt set by the database.
// It never overwrites: an existing external ID yields domain.ErrListingExists.
func (r *PostgresRepository) Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	query, args, err := psql.Insert(listingsTable).
		Columns("external_id", "title", "price", "city", "images", "url", "posted_at", "area", "keyword").
		Values(
			listing.ExternalID,
			listing.Title,
			nullFloat(listing.Price),
			nullString(listing.City),
			pq.Array(listing.Images),
			listing.URL,
			listing.PostedAt,
			listing.Area,
			listing.Keyword,
		).
		Suffix("ON CONFLICT (external_id) DO NOTHING RETURNING created_at").
		ToSql()
	if err != nil {
		return listing, fmt.Errorf("build insert query: %w", err)
	}

	var createdAt time.Time
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return listing, fmt.Errorf("insert listing %d: %w", listing.ExternalID, domain.ErrListingExists)
	case err != nil:
		return listing, fmt.Errorf("insert listing %d: %w", listing.ExternalID, err)
	}

	listing.IngestedAt = createdAt
	return listing, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
