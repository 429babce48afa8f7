package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"abceats/metrics"
	"abceats/models"
	"abceats/scraper/socrata"
	"abceats/storage"
	"abceats/utils"
)

// PageFetcher returns one page of raw inspection rows ordered by camis
type PageFetcher interface {
	FetchPage(ctx context.Context, offset, limit int) ([]models.InspectionRecord, error)
	PageSize() int
}

// SyncResult summarises one refresh pass
type SyncResult struct {
	RunID       string
	Pages       int
	Rows        int
	Restaurants int
	Stats       ConsolidationStats
	StartedAt   time.Time
	Duration    time.Duration
}

// Syncer drives a full refresh: page through the source, consolidate each page,
// checkpoint it to the store and finally publish the new set to AppState.
// Only one refresh runs at a time.
type Syncer struct {
	fetcher      PageFetcher
	store        storage.RestaurantStore
	archive      storage.RawArchive
	consolidator *Consolidator
	state        *AppState
	staleAfter   time.Duration
	logger       *utils.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	running atomic.Bool
	bg      sync.WaitGroup
}

// NewSyncer wires a Syncer. archive may be nil.
func NewSyncer(
	fetcher PageFetcher,
	store storage.RestaurantStore,
	archive storage.RawArchive,
	state *AppState,
	staleAfter time.Duration,
	logger *utils.Logger,
	m *metrics.Metrics,
) *Syncer {
	logger = logger.Named("sync")
	return &Syncer{
		fetcher:      fetcher,
		store:        store,
		archive:      archive,
		consolidator: NewConsolidator(logger),
		state:        state,
		staleAfter:   staleAfter,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// IsRefreshing reports whether a refresh is running
func (s *Syncer) IsRefreshing() bool {
	return s.running.Load()
}

// IsStale reports whether the loaded data is missing or older than the staleness window
func (s *Syncer) IsStale(now time.Time) bool {
	last, ok := s.state.LastUpdated()
	if !ok {
		return true
	}
	return now.Sub(last) > s.staleAfter
}

// Refresh runs one full refresh on the calling goroutine
func (s *Syncer) Refresh(ctx context.Context) (SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SyncResult{}, ErrRefreshInProgress
	}
	defer s.running.Store(false)
	return s.refresh(ctx)
}

// RefreshIfStale refreshes only when the data is stale. It reports whether a refresh ran.
func (s *Syncer) RefreshIfStale(ctx context.Context) (bool, error) {
	if !s.IsStale(s.now()) {
		return false, nil
	}
	_, err := s.Refresh(ctx)
	return true, err
}

// StartRefresh launches a refresh in the background
func (s *Syncer) StartRefresh(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.running.Store(false)
		if _, err := s.refresh(ctx); err != nil {
			s.logger.Error("Background refresh failed: %v", err)
		}
	}()
	return nil
}

// TriggerIfStale starts a background refresh when the data is stale and none is
// running. It never blocks and reports whether a refresh was started.
func (s *Syncer) TriggerIfStale(ctx context.Context) bool {
	if s.IsRefreshing() || !s.IsStale(s.now()) {
		return false
	}
	return s.StartRefresh(ctx) == nil
}

// Wait blocks until background refreshes have finished
func (s *Syncer) Wait() {
	s.bg.Wait()
}

func (s *Syncer) refresh(ctx context.Context) (SyncResult, error) {
	result := SyncResult{RunID: uuid.NewString(), StartedAt: s.now()}
	s.logger.Info("Starting refresh %s", result.RunID)
	s.state.BeginLoading("Starting data download...")

	archive := s.archive
	if archive != nil {
		if err := archive.Begin(); err != nil {
			s.logger.Warn("Raw archive disabled for this refresh: %v", err)
			archive = nil
		}
	}
	if archive != nil {
		defer func() {
			if err := archive.Close(); err != nil {
				s.logger.Warn("Closing raw archive: %v", err)
			}
		}()
	}

	pageSize := s.fetcher.PageSize()
	seen := utils.NewIDTracker()
	var (
		carry     []models.InspectionRecord
		collected []models.Restaurant
		offset    int
		first     = true
	)

	for {
		s.state.SetProgress(len(collected), fmt.Sprintf("Downloading restaurants %d to %d...", offset+1, offset+pageSize))

		rows, err := s.fetcher.FetchPage(ctx, offset, pageSize)
		if err != nil {
			return s.fail(ctx, result, err)
		}
		result.Pages++
		result.Rows += len(rows)

		if archive != nil {
			if err := archive.WriteRows(rows); err != nil {
				s.logger.Warn("Raw archive write failed, disabling it: %v", err)
				archive = nil
			}
		}

		full := len(rows) == pageSize && len(rows) > 0
		batch := append(carry, rows...)
		carry = nil
		if full {
			batch, carry = splitTrailingGroup(batch)
		}

		restaurants, stats := s.consolidator.Consolidate(batch)
		result.Stats.Add(stats)

		fresh := restaurants[:0]
		for _, r := range restaurants {
			if seen.Add(r.ID) {
				fresh = append(fresh, r)
			}
		}

		if first {
			err = s.store.ReplaceAll(ctx, fresh)
			first = false
		} else if len(fresh) > 0 {
			err = s.store.Append(ctx, fresh)
		}
		if err != nil {
			return s.fail(ctx, result, fmt.Errorf("checkpoint page at offset %d: %w", offset, err))
		}

		collected = append(collected, fresh...)
		s.state.SetProgress(len(collected), fmt.Sprintf("Downloaded %d restaurants...", len(collected)))
		s.logger.Info("Page at offset %d: %d rows, %d new restaurants (total %d)", offset, len(rows), len(fresh), len(collected))

		if !full {
			break
		}
		offset += pageSize
	}

	finished := s.now()
	if err := s.store.SetLastSyncTime(ctx, finished); err != nil {
		return s.fail(ctx, result, fmt.Errorf("store sync time: %w", err))
	}

	s.state.ReplaceRestaurants(collected, finished)
	s.state.FinishLoading(fmt.Sprintf("Successfully downloaded %d restaurants", len(collected)))

	result.Restaurants = len(collected)
	result.Duration = finished.Sub(result.StartedAt)
	s.metrics.Skipped("coordinates", result.Stats.InvalidCoordinates)
	s.metrics.Skipped("identifier", result.Stats.MissingIdentifier)
	s.metrics.SetRestaurantsLoaded(len(collected))
	s.metrics.RefreshFinished(nil, result.Duration)

	s.logger.Info("Refresh %s finished: %d restaurants (%d distinct ids) from %d rows in %d pages (%d without coordinates) in %v",
		result.RunID, result.Restaurants, seen.Count(), result.Rows, result.Pages, result.Stats.InvalidCoordinates, result.Duration)
	return result, nil
}

// splitTrailingGroup moves the rows of the batch's last identifier out so a
// restaurant is never consolidated from part of its rows. If the whole batch
// is one identifier it is all carried.
func splitTrailingGroup(batch []models.InspectionRecord) (keep, carry []models.InspectionRecord) {
	last := strings.TrimSpace(batch[len(batch)-1].Camis)
	cut := len(batch)
	for cut > 0 && strings.TrimSpace(batch[cut-1].Camis) == last {
		cut--
	}
	return batch[:cut], slices.Clone(batch[cut:])
}

func (s *Syncer) fail(ctx context.Context, result SyncResult, err error) (SyncResult, error) {
	result.Duration = s.now().Sub(result.StartedAt)
	s.metrics.RefreshFinished(err, result.Duration)

	// reload whatever the store now holds
	if loadErr := s.Load(context.WithoutCancel(ctx)); loadErr != nil {
		s.logger.Error("Reloading store after failed refresh: %v", loadErr)
	}
	s.state.Fail(userMessage(err))

	s.logger.Error("Refresh %s failed after %d pages: %v", result.RunID, result.Pages, err)
	return result, fmt.Errorf("refresh: %w", err)
}

func userMessage(err error) string {
	var fe *socrata.FetchError
	switch {
	case errors.As(err, &fe):
		return socrata.UserMessage(fe)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Refresh cancelled."
	default:
		return "Storage error: " + err.Error()
	}
}

// Load publishes the stored restaurants and sync time to AppState
func (s *Syncer) Load(ctx context.Context) error {
	restaurants, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load restaurants: %w", err)
	}
	last, ok, err := s.store.LastSyncTime(ctx)
	if err != nil {
		return fmt.Errorf("load sync time: %w", err)
	}
	if !ok {
		last = time.Time{}
	}
	s.state.ReplaceRestaurants(restaurants, last)
	s.metrics.SetRestaurantsLoaded(len(restaurants))
	return nil
}

// Bootstrap loads the store into AppState, seeding it from the bundled
// snapshot when it has never been filled. It reports whether the snapshot was used.
func (s *Syncer) Bootstrap(ctx context.Context, snapshotPath string) (bool, error) {
	restaurants, err := s.store.LoadAll(ctx)
	if err != nil {
		return false, fmt.Errorf("load restaurants: %w", err)
	}
	_, hasSync, err := s.store.LastSyncTime(ctx)
	if err != nil {
		return false, fmt.Errorf("load sync time: %w", err)
	}
	if len(restaurants) > 0 || hasSync || snapshotPath == "" {
		return false, s.Load(ctx)
	}

	snapshot, err := storage.LoadSnapshot(snapshotPath)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		s.logger.Warn("No bundled snapshot at %s, starting empty", snapshotPath)
		return false, s.Load(ctx)
	}
	if err != nil {
		return false, err
	}

	if err := s.store.ReplaceAll(ctx, snapshot); err != nil {
		return false, fmt.Errorf("seed store from snapshot: %w", err)
	}
	newest := storage.NewestUpdate(snapshot)
	if !newest.IsZero() {
		if err := s.store.SetLastSyncTime(ctx, newest); err != nil {
			return false, fmt.Errorf("store snapshot sync time: %w", err)
		}
	}
	s.state.ReplaceRestaurants(snapshot, newest)
	s.metrics.SetRestaurantsLoaded(len(snapshot))
	s.logger.Info("Seeded %d restaurants from bundled snapshot %s", len(snapshot), snapshotPath)
	return true, nil
}

// ClearAll deletes all stored data and empties AppState
func (s *Syncer) ClearAll(ctx context.Context) error {
	if s.IsRefreshing() {
		return ErrRefreshInProgress
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	s.state.Reset()
	s.metrics.SetRestaurantsLoaded(0)
	s.logger.Info("All data cleared")
	return nil
}
