package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"abceats/models"
	"abceats/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS restaurants (
	id              TEXT PRIMARY KEY,
	position        BIGINT           NOT NULL,
	name            TEXT             NOT NULL,
	grade           TEXT             NOT NULL DEFAULT 'N/A',
	food_type       TEXT             NOT NULL DEFAULT 'Unknown',
	address         TEXT             NOT NULL,
	borough         TEXT             NOT NULL,
	zip_code        TEXT             NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	last_updated    TIMESTAMPTZ      NOT NULL,
	phone           TEXT             NOT NULL DEFAULT '',
	cuisine         TEXT             NOT NULL DEFAULT '',
	inspection_date TIMESTAMPTZ,
	score           INTEGER          NOT NULL DEFAULT 0,
	violations      JSONB            NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_restaurants_position ON restaurants (position);
CREATE INDEX IF NOT EXISTS idx_restaurants_borough  ON restaurants (borough);
CREATE INDEX IF NOT EXISTS idx_restaurants_grade    ON restaurants (grade);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TIMESTAMPTZ NOT NULL
);
`

const (
	pgSelectRestaurants = `SELECT id, position, name, grade, food_type, address, borough, zip_code,
	latitude, longitude, last_updated, phone, cuisine, inspection_date, score, violations
FROM restaurants ORDER BY position`

	pgUpsertRestaurant = `INSERT INTO restaurants (id, position, name, grade, food_type, address, borough, zip_code,
	latitude, longitude, last_updated, phone, cuisine, inspection_date, score, violations)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	position = EXCLUDED.position,
	name = EXCLUDED.name,
	grade = EXCLUDED.grade,
	food_type = EXCLUDED.food_type,
	address = EXCLUDED.address,
	borough = EXCLUDED.borough,
	zip_code = EXCLUDED.zip_code,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	last_updated = EXCLUDED.last_updated,
	phone = EXCLUDED.phone,
	cuisine = EXCLUDED.cuisine,
	inspection_date = EXCLUDED.inspection_date,
	score = EXCLUDED.score,
	violations = EXCLUDED.violations`

	pgNextPosition  = `SELECT COALESCE(MAX(position) + 1, 0) FROM restaurants`
	pgSelectSync    = `SELECT value FROM sync_state WHERE key = $1`
	pgUpsertSync    = `INSERT INTO sync_state (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	pgDeleteAll     = `DELETE FROM restaurants`
	pgDeleteSyncAll = `DELETE FROM sync_state`
)

// violationList is stored as a JSONB array
type violationList []models.Violation

func (v violationList) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func (v *violationList) Scan(src any) error {
	var data []byte
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		data = s
	case string:
		data = []byte(s)
	default:
		return fmt.Errorf("unsupported violations column type %T", src)
	}
	return json.Unmarshal(data, (*[]models.Violation)(v))
}

type restaurantRecord struct {
	ID             string        `db:"id"`
	Position       int64         `db:"position"`
	Name           string        `db:"name"`
	Grade          string        `db:"grade"`
	FoodType       string        `db:"food_type"`
	Address        string        `db:"address"`
	Borough        string        `db:"borough"`
	ZipCode        string        `db:"zip_code"`
	Latitude       float64       `db:"latitude"`
	Longitude      float64       `db:"longitude"`
	LastUpdated    time.Time     `db:"last_updated"`
	Phone          string        `db:"phone"`
	Cuisine        string        `db:"cuisine"`
	InspectionDate *time.Time    `db:"inspection_date"`
	Score          int           `db:"score"`
	Violations     violationList `db:"violations"`
}

// PostgresStore keeps restaurants in PostgreSQL with violations as JSONB
type PostgresStore struct {
	db     *sqlx.DB
	logger *utils.Logger
}

// NewPostgresStore connects, pings and creates the schema if needed
func NewPostgresStore(connStr string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	logger.Info("Connected to PostgreSQL successfully")

	s := NewPostgresStoreFromDB(db, logger)
	if err := s.CreateSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an existing connection without touching the schema
func NewPostgresStoreFromDB(db *sqlx.DB, logger *utils.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// CreateSchema creates the tables and indexes if they don't exist
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Info("Tables 'restaurants' and 'sync_state' are ready")
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]models.Restaurant, error) {
	var records []restaurantRecord
	if err := s.db.SelectContext(ctx, &records, pgSelectRestaurants); err != nil {
		return nil, fmt.Errorf("failed to load restaurants: %w", err)
	}
	restaurants := make([]models.Restaurant, 0, len(records))
	for _, r := range records {
		restaurants = append(restaurants, models.Restaurant{
			ID:             r.ID,
			Name:           r.Name,
			Grade:          r.Grade,
			FoodType:       r.FoodType,
			Address:        r.Address,
			Borough:        r.Borough,
			ZipCode:        r.ZipCode,
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			LastUpdated:    r.LastUpdated.UTC(),
			Phone:          r.Phone,
			Cuisine:        r.Cuisine,
			InspectionDate: utcPtr(r.InspectionDate),
			Score:          r.Score,
			Violations:     []models.Violation(r.Violations),
		})
	}
	return restaurants, nil
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, restaurants []models.Restaurant) error {
	return s.inTx(ctx, "replace restaurants", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, pgDeleteAll); err != nil {
			return err
		}
		return s.batchUpsert(ctx, tx, restaurants, 0)
	})
}

func (s *PostgresStore) Append(ctx context.Context, restaurants []models.Restaurant) error {
	if len(restaurants) == 0 {
		return nil
	}
	return s.inTx(ctx, "append restaurants", func(tx *sqlx.Tx) error {
		var next int64
		if err := tx.GetContext(ctx, &next, pgNextPosition); err != nil {
			return err
		}
		return s.batchUpsert(ctx, tx, restaurants, next)
	})
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, "clear store", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, pgDeleteAll); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, pgDeleteSyncAll)
		return err
	})
}

func (s *PostgresStore) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t, pgSelectSync, lastSyncKey)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read sync time: %w", err)
	}
	return t.UTC(), true, nil
}

func (s *PostgresStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, pgUpsertSync, lastSyncKey, t.UTC()); err != nil {
		return fmt.Errorf("failed to store sync time: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// batchUpsert writes restaurants through one prepared statement
func (s *PostgresStore) batchUpsert(ctx context.Context, tx *sqlx.Tx, restaurants []models.Restaurant, startPosition int64) error {
	if len(restaurants) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, pgUpsertRestaurant)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range restaurants {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			startPosition+int64(i),
			r.Name,
			r.Grade,
			r.FoodType,
			r.Address,
			r.Borough,
			r.ZipCode,
			r.Latitude,
			r.Longitude,
			r.LastUpdated.UTC(),
			r.Phone,
			r.Cuisine,
			r.InspectionDate,
			r.Score,
			violationList(r.Violations),
		)
		if err != nil {
			return fmt.Errorf("insert restaurant %s: %w", r.ID, err)
		}
	}

	s.logger.Debug("Upserted %d restaurants into PostgreSQL", len(restaurants))
	return nil
}
