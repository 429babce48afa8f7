package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"abceats/models"
	"abceats/utils"
)

const (
	sqliteBatchSize = 500
	lastSyncKey     = "last_sync"
)

type restaurantRow struct {
	ID             string `gorm:"primaryKey"`
	Position       int64  `gorm:"index;not null"`
	Name           string `gorm:"not null"`
	Grade          string
	FoodType       string
	Address        string
	Borough        string `gorm:"index"`
	ZipCode        string
	Latitude       float64
	Longitude      float64
	LastUpdated    time.Time
	Phone          string
	Cuisine        string
	InspectionDate *time.Time
	Score          int
}

func (restaurantRow) TableName() string { return "restaurants" }

type violationRow struct {
	RowID          uint   `gorm:"primaryKey;autoIncrement"`
	RestaurantID   string `gorm:"index;not null"`
	Position       int    `gorm:"not null"`
	ViolationID    string
	Code           string
	Description    string
	CriticalFlag   string
	InspectionDate *time.Time
}

func (violationRow) TableName() string { return "violations" }

type syncStateRow struct {
	Key   string `gorm:"primaryKey"`
	Value time.Time
}

func (syncStateRow) TableName() string { return "sync_state" }

// SQLiteStore keeps restaurants in a local SQLite database through gorm
type SQLiteStore struct {
	db     *gorm.DB
	logger *utils.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and migrates
// the schema. ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, logger *utils.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(logger, gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// one connection keeps ":memory:" a single database and serialises writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&restaurantRow{}, &violationRow{}, &syncStateRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Opened SQLite store at %s", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]models.Restaurant, error) {
	var rows []restaurantRow
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load restaurants: %w", err)
	}
	var vrows []violationRow
	if err := s.db.WithContext(ctx).Order("restaurant_id, position").Find(&vrows).Error; err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}

	byRestaurant := make(map[string][]models.Violation)
	for _, v := range vrows {
		byRestaurant[v.RestaurantID] = append(byRestaurant[v.RestaurantID], models.Violation{
			ID:             v.ViolationID,
			Code:           v.Code,
			Description:    v.Description,
			CriticalFlag:   v.CriticalFlag,
			InspectionDate: v.InspectionDate,
		})
	}

	restaurants := make([]models.Restaurant, 0, len(rows))
	for _, r := range rows {
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
			Violations:     byRestaurant[r.ID],
		})
	}
	return restaurants, nil
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, restaurants []models.Restaurant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := clearTables(tx, false); err != nil {
			return err
		}
		return insertRestaurants(tx, restaurants, 0)
	})
	if err != nil {
		return fmt.Errorf("failed to replace restaurants: %w", err)
	}
	s.logger.Debug("Replaced store contents with %d restaurants", len(restaurants))
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, restaurants []models.Restaurant) error {
	if len(restaurants) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int64
		if err := tx.Model(&restaurantRow{}).Select("COALESCE(MAX(position) + 1, 0)").Scan(&next).Error; err != nil {
			return err
		}
		ids := make([]string, 0, len(restaurants))
		for _, r := range restaurants {
			ids = append(ids, r.ID)
		}
		if err := tx.Where("restaurant_id IN ?", ids).Delete(&violationRow{}).Error; err != nil {
			return err
		}
		return insertRestaurants(tx, restaurants, next)
	})
	if err != nil {
		return fmt.Errorf("failed to append restaurants: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return clearTables(tx, true)
	})
	if err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	var row syncStateRow
	err := s.db.WithContext(ctx).Where("key = ?", lastSyncKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read sync time: %w", err)
	}
	return row.Value.UTC(), true, nil
}

func (s *SQLiteStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	row := syncStateRow{Key: lastSyncKey, Value: t.UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store sync time: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clearTables(tx *gorm.DB, includeSyncState bool) error {
	if err := tx.Where("1 = 1").Delete(&violationRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("1 = 1").Delete(&restaurantRow{}).Error; err != nil {
		return err
	}
	if includeSyncState {
		if err := tx.Where("1 = 1").Delete(&syncStateRow{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func insertRestaurants(tx *gorm.DB, restaurants []models.Restaurant, startPosition int64) error {
	if len(restaurants) == 0 {
		return nil
	}
	rows := make([]restaurantRow, 0, len(restaurants))
	var vrows []violationRow
	for i, r := range restaurants {
		rows = append(rows, restaurantRow{
			ID:             r.ID,
			Position:       startPosition + int64(i),
			Name:           r.Name,
			Grade:          r.Grade,
			FoodType:       r.FoodType,
			Address:        r.Address,
			Borough:        r.Borough,
			ZipCode:        r.ZipCode,
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			LastUpdated:    r.LastUpdated,
			Phone:          r.Phone,
			Cuisine:        r.Cuisine,
			InspectionDate: r.InspectionDate,
			Score:          r.Score,
		})
		for j, v := range r.Violations {
			vrows = append(vrows, violationRow{
				RestaurantID:   r.ID,
				Position:       j,
				ViolationID:    v.ID,
				Code:           v.Code,
				Description:    v.Description,
				CriticalFlag:   v.CriticalFlag,
				InspectionDate: v.InspectionDate,
			})
		}
	}

	err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, sqliteBatchSize).Error
	if err != nil {
		return err
	}
	if len(vrows) > 0 {
		if err := tx.CreateInBatches(vrows, sqliteBatchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
