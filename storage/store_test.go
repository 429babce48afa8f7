package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abceats/config"
	"abceats/models"
	"abceats/utils"
)

func sampleRestaurant(id, name, borough string) models.Restaurant {
	inspected := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return models.Restaurant{
		ID:             id,
		Name:           name,
		Grade:          "A",
		FoodType:       "Pizza",
		Address:        "7 CARMINE ST",
		Borough:        borough,
		ZipCode:        "10014",
		Latitude:       40.730599,
		Longitude:      -74.002791,
		LastUpdated:    time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC),
		Phone:          "2122551234",
		Cuisine:        "Pizza",
		InspectionDate: &inspected,
		Score:          12,
		Violations: []models.Violation{
			{ID: "04L|2024-03-04", Code: "04L", Description: "Mice", CriticalFlag: "Critical", InspectionDate: &inspected},
			{ID: "10F|2024-03-04", Code: "10F", Description: "Surfaces", CriticalFlag: "Not Critical"},
		},
	}
}

type storeFactory func(t *testing.T) RestaurantStore

func storeBackends() map[string]storeFactory {
	backends := map[string]storeFactory{
		"sqlite": func(t *testing.T) RestaurantStore {
			s, err := NewSQLiteStore(":memory:", utils.NewNopLogger())
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T) RestaurantStore {
			kv, err := NewFileKV(t.TempDir())
			require.NoError(t, err)
			return NewBlobStore(kv, utils.NewNopLogger())
		},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		backends["redis"] = func(t *testing.T) RestaurantStore {
			kv, err := NewRedisKV(RedisConfig{Addr: addr, KeyPrefix: "abceats-test:" + t.Name() + ":"})
			require.NoError(t, err)
			s := NewBlobStore(kv, utils.NewNopLogger())
			require.NoError(t, s.Clear(context.Background()))
			return s
		}
	}
	return backends
}

func ids(restaurants []models.Restaurant) []string {
	out := make([]string, 0, len(restaurants))
	for _, r := range restaurants {
		out = append(out, r.ID)
	}
	return out
}

func TestRestaurantStoreContract(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty store", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				all, err := s.LoadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, all)

				_, ok, err := s.LastSyncTime(ctx)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("replace all round-trips records in order", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				want := []models.Restaurant{
					sampleRestaurant("300", "ZEBRA", "Queens"),
					sampleRestaurant("100", "ALPHA", "Manhattan"),
				}
				require.NoError(t, s.ReplaceAll(ctx, want))

				got, err := s.LoadAll(ctx)
				require.NoError(t, err)
				require.Equal(t, []string{"300", "100"}, ids(got))

				r := got[1]
				assert.Equal(t, "ALPHA", r.Name)
				assert.Equal(t, "Manhattan", r.Borough)
				assert.Equal(t, 12, r.Score)
				assert.InDelta(t, 40.730599, r.Latitude, 1e-9)
				assert.True(t, want[1].LastUpdated.Equal(r.LastUpdated))
				require.NotNil(t, r.InspectionDate)
				assert.True(t, want[1].InspectionDate.Equal(*r.InspectionDate))
				require.Len(t, r.Violations, 2)
				assert.Equal(t, "Mice", r.Violations[0].Description)
				assert.Equal(t, "04L|2024-03-04", r.Violations[0].ID)
				assert.True(t, r.Violations[0].IsCritical())
				assert.Nil(t, r.Violations[1].InspectionDate)
			})

			t.Run("replace all discards previous records", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				require.NoError(t, s.ReplaceAll(ctx, []models.Restaurant{sampleRestaurant("1", "A", "Bronx")}))
				require.NoError(t, s.ReplaceAll(ctx, []models.Restaurant{sampleRestaurant("2", "B", "Bronx")}))

				got, err := s.LoadAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"2"}, ids(got))
			})

			t.Run("append adds and overwrites by id", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				require.NoError(t, s.ReplaceAll(ctx, []models.Restaurant{
					sampleRestaurant("1", "ONE", "Bronx"),
					sampleRestaurant("2", "TWO", "Bronx"),
				}))
				updated := sampleRestaurant("2", "TWO AGAIN", "Bronx")
				updated.Violations = nil
				require.NoError(t, s.Append(ctx, []models.Restaurant{
					updated,
					sampleRestaurant("3", "THREE", "Bronx"),
				}))

				got, err := s.LoadAll(ctx)
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"1", "2", "3"}, ids(got))
				for _, r := range got {
					if r.ID == "2" {
						assert.Equal(t, "TWO AGAIN", r.Name)
						assert.Empty(t, r.Violations)
					}
				}
				assert.Equal(t, "3", got[len(got)-1].ID)
			})

			t.Run("sync time and clear", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				synced := time.Date(2024, 7, 2, 4, 0, 0, 0, time.UTC)
				require.NoError(t, s.ReplaceAll(ctx, []models.Restaurant{sampleRestaurant("1", "A", "Bronx")}))
				require.NoError(t, s.SetLastSyncTime(ctx, synced))
				require.NoError(t, s.SetLastSyncTime(ctx, synced.Add(time.Hour)))

				got, ok, err := s.LastSyncTime(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.True(t, synced.Add(time.Hour).Equal(got))

				require.NoError(t, s.Clear(ctx))
				all, err := s.LoadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, all)
				_, ok, err = s.LastSyncTime(ctx)
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestFileKVUsesBlobKeys(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	s := NewBlobStore(kv, utils.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, s.ReplaceAll(ctx, nil))
	require.NoError(t, s.SetLastSyncTime(ctx, time.Now()))

	assert.FileExists(t, dir+"/savedRestaurants.json")
	assert.FileExists(t, dir+"/lastUpdateTime.json")

	data, err := os.ReadFile(dir + "/savedRestaurants.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.StorageConfig{Driver: "mongo"}, utils.NewNopLogger())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenFileDriver(t *testing.T) {
	s, err := Open(config.StorageConfig{Driver: "file", BlobDir: t.TempDir()}, utils.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &BlobStore{}, s)
}

func TestOpenArchive(t *testing.T) {
	assert.Nil(t, OpenArchive(config.StorageConfig{}, utils.NewNopLogger()))
	assert.NotNil(t, OpenArchive(config.StorageConfig{RawCSVPath: "raw.csv"}, utils.NewNopLogger()))
}
