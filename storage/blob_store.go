package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"abceats/models"
	"abceats/utils"
)

// Keys under which the blob backends keep their data
const (
	RestaurantsKey = "savedRestaurants"
	LastUpdateKey  = "lastUpdateTime"
)

// KeyValue is a minimal byte blob store
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// BlobStore keeps the whole restaurant set as one JSON array under a single
// key, with the last sync time beside it
type BlobStore struct {
	kv     KeyValue
	logger *utils.Logger
	mu     sync.Mutex
}

func NewBlobStore(kv KeyValue, logger *utils.Logger) *BlobStore {
	return &BlobStore{kv: kv, logger: logger}
}

func (s *BlobStore) LoadAll(ctx context.Context) ([]models.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *BlobStore) load(ctx context.Context) ([]models.Restaurant, error) {
	data, ok, err := s.kv.Get(ctx, RestaurantsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", RestaurantsKey, err)
	}
	if !ok {
		return nil, nil
	}
	var restaurants []models.Restaurant
	if err := json.Unmarshal(data, &restaurants); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", RestaurantsKey, err)
	}
	return restaurants, nil
}

func (s *BlobStore) save(ctx context.Context, restaurants []models.Restaurant) error {
	if restaurants == nil {
		restaurants = []models.Restaurant{}
	}
	data, err := json.Marshal(restaurants)
	if err != nil {
		return fmt.Errorf("failed to encode restaurants: %w", err)
	}
	if err := s.kv.Set(ctx, RestaurantsKey, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", RestaurantsKey, err)
	}
	s.logger.Debug("Saved %d restaurants to %s", len(restaurants), RestaurantsKey)
	return nil
}

func (s *BlobStore) ReplaceAll(ctx context.Context, restaurants []models.Restaurant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, restaurants)
}

func (s *BlobStore) Append(ctx context.Context, restaurants []models.Restaurant) error {
	if len(restaurants) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(ctx)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(existing))
	for i, r := range existing {
		index[r.ID] = i
	}
	for _, r := range restaurants {
		if i, ok := index[r.ID]; ok {
			existing[i] = r
			continue
		}
		index[r.ID] = len(existing)
		existing = append(existing, r)
	}
	return s.save(ctx, existing)
}

func (s *BlobStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, RestaurantsKey, LastUpdateKey); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

func (s *BlobStore) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	data, ok, err := s.kv.Get(ctx, LastUpdateKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read %s: %w", LastUpdateKey, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse %s: %w", LastUpdateKey, err)
	}
	return t.UTC(), true, nil
}

func (s *BlobStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.kv.Set(ctx, LastUpdateKey, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("failed to write %s: %w", LastUpdateKey, err)
	}
	return nil
}

func (s *BlobStore) Close() error {
	return s.kv.Close()
}
