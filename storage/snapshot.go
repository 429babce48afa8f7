package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"abceats/models"
)

// ErrSnapshotNotFound is returned when the bundled snapshot file does not exist
var ErrSnapshotNotFound = errors.New("snapshot not found")

// LoadSnapshot reads a JSON array of restaurants
func LoadSnapshot(path string) ([]models.Restaurant, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var restaurants []models.Restaurant
	if err := json.Unmarshal(data, &restaurants); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return restaurants, nil
}

// ExportSnapshot writes restaurants as an indented JSON array
func ExportSnapshot(path string, restaurants []models.Restaurant) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if restaurants == nil {
		restaurants = []models.Restaurant{}
	}
	data, err := json.MarshalIndent(restaurants, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// NewestUpdate returns the latest LastUpdated among restaurants, or the zero time
func NewestUpdate(restaurants []models.Restaurant) time.Time {
	var newest time.Time
	for _, r := range restaurants {
		if r.LastUpdated.After(newest) {
			newest = r.LastUpdated
		}
	}
	return newest
}
