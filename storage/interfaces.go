package storage

import (
	"context"
	"errors"
	"time"

	"abceats/models"
)

// ErrUnknownDriver is returned by Open for an unsupported storage driver
var ErrUnknownDriver = errors.New("unknown storage driver")

// RestaurantStore persists the consolidated restaurant set between runs
type RestaurantStore interface {
	// LoadAll returns every stored restaurant, in insertion order
	LoadAll(ctx context.Context) ([]models.Restaurant, error)
	// ReplaceAll clears the store and writes restaurants as one unit
	ReplaceAll(ctx context.Context, restaurants []models.Restaurant) error
	// Append adds restaurants, overwriting any with the same id
	Append(ctx context.Context, restaurants []models.Restaurant) error
	// Clear removes all restaurants and the last sync time
	Clear(ctx context.Context) error
	LastSyncTime(ctx context.Context) (time.Time, bool, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
	Close() error
}

// RawArchive keeps a copy of the raw inspection rows fetched during a refresh
type RawArchive interface {
	// Begin starts a new archive, discarding the previous one
	Begin() error
	WriteRows(rows []models.InspectionRecord) error
	Close() error
}
