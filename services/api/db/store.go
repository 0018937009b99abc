package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps read access to the rte schema written by the watcher.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Unit represents a production unit of the catalog.
type Unit struct {
	Code       string         `json:"eic_code"`
	Name       string         `json:"name"`
	PlantID    *string        `json:"plant_id,omitempty"`
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

const unitColumns = `code, name, plant_id, lat, lon, properties, created_at, updated_at`

const listUnitsSQL = `
    SELECT ` + unitColumns + `
    FROM rte.units
    ORDER BY code
`

const getUnitSQL = `
    SELECT ` + unitColumns + `
    FROM rte.units
    WHERE code = $1
`

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	err := row.Scan(&u.Code, &u.Name, &u.PlantID, &u.Lat, &u.Lon, &u.Properties, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// ListUnits returns the whole catalog.
func (s *Store) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := s.pool.Query(ctx, listUnitsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]Unit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// GetUnit returns one unit, or nil when the code is unknown.
func (s *Store) GetUnit(ctx context.Context, code string) (*Unit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, getUnitSQL, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Generation is one stored power observation.
type Generation struct {
	UnitKey        string    `json:"unit_key"`
	Code           *string   `json:"eic_code,omitempty"`
	Name           *string   `json:"name,omitempty"`
	ProductionType *string   `json:"production_type,omitempty"`
	Time           time.Time `json:"time"`
	PowerMW        *float64  `json:"power_mw"`
	Lat            *float64  `json:"lat,omitempty"`
	Lon            *float64  `json:"lon,omitempty"`
}

// GenerationQuery holds filters for retrieving a unit's history. When Limit
// is set the most recent Limit rows of the range are returned.
type GenerationQuery struct {
	UnitKey string
	Limit   int
	Since   *time.Time
	Until   *time.Time
}

const generationColumns = `unit_key, code, name, production_type, ts, power, lat, lon`

const generationBase = `
    SELECT ` + generationColumns + `
    FROM rte.generation
    WHERE unit_key = $1
`

const latestGenerationSQL = `
    SELECT DISTINCT ON (unit_key) ` + generationColumns + `
    FROM rte.generation
    WHERE power IS NOT NULL
    ORDER BY unit_key, ts DESC
`

// BuildGenerationSQL returns the history query of q and its arguments.
func BuildGenerationSQL(q GenerationQuery) (string, []any) {
	args := []any{q.UnitKey}
	clause := ""
	argPos := 2
	if q.Since != nil {
		clause += " AND ts >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		clause += " AND ts <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}

	if q.Limit <= 0 {
		return generationBase + clause + " ORDER BY ts", args
	}
	args = append(args, q.Limit)
	inner := generationBase + clause + " ORDER BY ts DESC LIMIT $" + strconv.Itoa(argPos)
	return "SELECT * FROM (" + inner + ") recent ORDER BY ts", args
}

// FetchGeneration returns a unit's history in ascending time order.
func (s *Store) FetchGeneration(ctx context.Context, q GenerationQuery) ([]Generation, error) {
	sql, args := BuildGenerationSQL(q)
	return s.queryGeneration(ctx, sql, args...)
}

// LatestGeneration returns the latest non-null observation of every unit.
func (s *Store) LatestGeneration(ctx context.Context) ([]Generation, error) {
	return s.queryGeneration(ctx, latestGenerationSQL)
}

func (s *Store) queryGeneration(ctx context.Context, sql string, args ...any) ([]Generation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Generation, 0)
	for rows.Next() {
		var g Generation
		if err := rows.Scan(
			&g.UnitKey,
			&g.Code,
			&g.Name,
			&g.ProductionType,
			&g.Time,
			&g.PowerMW,
			&g.Lat,
			&g.Lon,
		); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
