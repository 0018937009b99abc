package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

var postgresSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS rte`,
	`CREATE TABLE IF NOT EXISTS rte.units (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    plant_id TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    properties JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_units_location ON rte.units (lat, lon)`,
	`CREATE TABLE IF NOT EXISTS rte.generation (
    unit_key TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    code TEXT,
    name TEXT,
    production_type TEXT,
    lat DOUBLE PRECISION,
    lon DOUBLE PRECISION,
    power DOUBLE PRECISION,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (unit_key, ts)
)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_code ON rte.generation (code)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_power ON rte.generation (power)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_key_ts ON rte.generation (unit_key, ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_watermark ON rte.generation (unit_key, ts DESC) WHERE power IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_generation_ts ON rte.generation (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_location ON rte.generation (lat, lon)`,
}

const upsertUnitSQL = `INSERT INTO rte.units (code, name, plant_id, lat, lon, properties, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (code) DO UPDATE
SET name = EXCLUDED.name,
    plant_id = EXCLUDED.plant_id,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    properties = EXCLUDED.properties,
    updated_at = NOW()`

const upsertFeatureSQL = `INSERT INTO rte.generation (unit_key, ts, code, name, production_type, lat, lon, power, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT (unit_key, ts) DO UPDATE
SET code = EXCLUDED.code,
    name = EXCLUDED.name,
    production_type = EXCLUDED.production_type,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    power = EXCLUDED.power,
    updated_at = NOW()`

const watermarkMaxSQL = `
SELECT unit_key, MAX(ts)
FROM rte.generation
WHERE power IS NOT NULL AND ts >= $1
GROUP BY unit_key`

const watermarkLatestSQL = `
SELECT DISTINCT ON (unit_key) unit_key, ts
FROM rte.generation
WHERE power IS NOT NULL AND ts >= $1
ORDER BY unit_key, ts DESC`

// Postgres stores units and generation in PostgreSQL. It has no native
// expiry, so retention relies on PurgeExpired.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgres connects a pgx pool.
func NewPostgres(ctx context.Context, databaseURL string, opts Options) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, ttl: opts.TTL}, nil
}

// EnsureSchema creates the rte schema, tables and indices.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LoadUnits loads the unit catalog.
func (p *Postgres) LoadUnits(ctx context.Context) ([]models.Unit, error) {
	rows, err := p.pool.Query(ctx, `
SELECT code, name, plant_id, lat, lon, properties
FROM rte.units
ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	defer rows.Close()

	units := make([]models.Unit, 0)
	for rows.Next() {
		var u models.Unit
		var plantID *string
		var lat, lon float64
		if err := rows.Scan(&u.Code, &u.Name, &plantID, &lat, &lon, &u.Properties); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if plantID != nil {
			u.PlantID = *plantID
		}
		u.Geometry = models.NewPoint(lat, lon)
		units = append(units, u)
	}
	return units, rows.Err()
}

// UpsertUnits inserts or updates units by code.
func (p *Postgres) UpsertUnits(ctx context.Context, units []models.Unit, chunkSize int) (int, error) {
	written := 0
	for _, chunk := range Chunk(units, chunkSize) {
		batch := &pgx.Batch{}
		for _, u := range chunk {
			props := u.Properties
			if props == nil {
				props = map[string]any{}
			}
			batch.Queue(upsertUnitSQL, u.Code, u.Name, nullString(u.PlantID), u.Geometry.Lat(), u.Geometry.Lon(), props)
		}
		if err := p.sendBatch(ctx, batch, len(chunk)); err != nil {
			return written, fmt.Errorf("upsert units: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

// FetchWatermark reads the per-unit watermark.
func (p *Postgres) FetchWatermark(ctx context.Context, since time.Time, strategy config.WatermarkStrategy) (models.Watermark, error) {
	rows, err := p.pool.Query(ctx, watermarkQuery(strategy), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch watermark: %w", err)
	}
	defer rows.Close()

	wm := make(models.Watermark)
	for rows.Next() {
		var key string
		var ts time.Time
		if err := rows.Scan(&key, &ts); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		wm[key] = ts.UTC()
	}
	return wm, rows.Err()
}

// UpsertFeatures writes features, one pgx batch per chunk. Each statement is
// an upsert, so replaying a chunk leaves the table unchanged.
func (p *Postgres) UpsertFeatures(ctx context.Context, features []models.Feature, chunkSize int) (int, error) {
	written := 0
	for _, chunk := range Chunk(features, chunkSize) {
		batch := &pgx.Batch{}
		for _, f := range chunk {
			batch.Queue(upsertFeatureSQL,
				f.UnitKey, f.Time.UTC(), nullString(f.Code), f.Name, nullString(f.ProductionType),
				f.Geometry.Lat(), f.Geometry.Lon(), f.Power)
		}
		if err := p.sendBatch(ctx, batch, len(chunk)); err != nil {
			return written, fmt.Errorf("upsert generation: %w", err)
		}
		written += len(chunk)
	}
	return written, nil
}

// PurgeExpired deletes features older than before.
func (p *Postgres) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rte.generation WHERE ts < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge generation: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AcquireRunLock takes a session advisory lock on a dedicated connection.
// The lock disappears with the session if the process dies.
func (p *Postgres) AcquireRunLock(ctx context.Context, name string) (ReleaseFunc, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrRunInProgress
	}

	return func(ctx context.Context) error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

// Close releases the pool resources.
func (p *Postgres) Close(context.Context) error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	res := p.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < n; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func watermarkQuery(strategy config.WatermarkStrategy) string {
	if strategy == config.WatermarkLatest {
		return watermarkLatestSQL
	}
	return watermarkMaxSQL
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
