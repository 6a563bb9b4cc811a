package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const undefinedTable = "42P01"

// PostgresLedger persists visits in the visits table. After each append the
// table is trimmed back to its capacity, newest rows kept.
type PostgresLedger struct {
	db       *sql.DB
	log      *zerolog.Logger
	capacity int
}

func NewPostgresLedger(ctx context.Context, db *sql.DB, log *zerolog.Logger, capacity int) (*PostgresLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	if capacity <= 0 {
		capacity = DefaultVisitCapacity
	}

	return &PostgresLedger{
		db:       db,
		log:      log,
		capacity: capacity,
	}, nil
}

func (r *PostgresLedger) Append(ctx context.Context, visit VisitEntity) error {
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO visits (ip, country, city, latitude, longitude, timezone, isp, org, as_id,
			browser, browser_version, os, device, is_mobile, is_bot, video_id, short_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		visit.IP,
		visit.Country,
		visit.City,
		visit.Latitude,
		visit.Longitude,
		visit.Timezone,
		visit.ISP,
		visit.Org,
		visit.AS,
		visit.Browser,
		visit.BrowserVersion,
		visit.OS,
		visit.Device,
		visit.IsMobile,
		visit.IsBot,
		visit.VideoID,
		visit.ShortID,
		visit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", mapPQError(err))
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM visits WHERE id IN (
			SELECT id FROM visits ORDER BY created_at DESC, id DESC OFFSET $1
		)
	`, r.capacity)
	if err != nil {
		return fmt.Errorf("failed to trim visits: %w", mapPQError(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit visit: %w", err)
	}
	return nil
}

func (r *PostgresLedger) List(ctx context.Context) ([]VisitEntity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ip, country, city, latitude, longitude, timezone, isp, org, as_id,
			browser, browser_version, os, device, is_mobile, is_bot, video_id, short_id, created_at
		FROM visits
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, r.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", mapPQError(err))
	}
	defer rows.Close()

	visits := make([]VisitEntity, 0, r.capacity)
	for rows.Next() {
		var v VisitEntity
		if err := rows.Scan(
			&v.ID,
			&v.IP,
			&v.Country,
			&v.City,
			&v.Latitude,
			&v.Longitude,
			&v.Timezone,
			&v.ISP,
			&v.Org,
			&v.AS,
			&v.Browser,
			&v.BrowserVersion,
			&v.OS,
			&v.Device,
			&v.IsMobile,
			&v.IsBot,
			&v.VideoID,
			&v.ShortID,
			&v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return visits, nil
}

// CountByField aggregates on one column. The column name comes from the
// AnalyticsFields whitelist, never from the caller directly.
func (r *PostgresLedger) CountByField(ctx context.Context, field string) ([]FieldStat, error) {
	if !supportedField(field) {
		err := fmt.Errorf("%w: %s", ErrUnsupportedField, field)
		r.log.Error().Msgf("%v", err)
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(NULLIF(%s,''),'Unknown') AS value, COUNT(*) FROM visits GROUP BY value ORDER BY COUNT(*) DESC, value`, field))
	if err != nil {
		r.log.Error().Msgf("failed to get field stats for field=%s: %v", field, err)
		return nil, fmt.Errorf("failed to get field stats: %w", mapPQError(err))
	}
	defer rows.Close()

	var stats []FieldStat
	for rows.Next() {
		var s FieldStat
		if err := rows.Scan(&s.Value, &s.Count); err != nil {
			r.log.Error().Msgf("failed to scan field stat for field=%s: %v", field, err)
			return nil, err
		}
		stats = append(stats, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return stats, nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", ErrLedgerNotMigrated, pqErr.Message)
	}
	return err
}
