package services

import (
	"sync"
	"time"

	"abceats/models"
)

// StateSnapshot is a point-in-time copy of AppState for readers
type StateSnapshot struct {
	Restaurants     int        `json:"restaurants"`
	LastUpdated     *time.Time `json:"lastUpdated,omitempty"`
	Loading         bool       `json:"loading"`
	ProgressMessage string     `json:"progressMessage,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	TotalLoaded     int        `json:"totalLoaded"`
}

// AppState owns the in-memory restaurant set and the refresh status shown to
// clients. Published slices are never mutated; writers swap in a new slice.
type AppState struct {
	mu              sync.RWMutex
	restaurants     []models.Restaurant
	lastUpdated     *time.Time
	loading         bool
	progressMessage string
	errorMessage    string
	totalLoaded     int
}

// NewAppState creates an empty state
func NewAppState() *AppState {
	return &AppState{}
}

// Restaurants returns the current set. Callers must not modify it.
func (s *AppState) Restaurants() []models.Restaurant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restaurants
}

// LastUpdated returns the last successful sync time, if any
func (s *AppState) LastUpdated() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastUpdated == nil {
		return time.Time{}, false
	}
	return *s.lastUpdated, true
}

func (s *AppState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StateSnapshot{
		Restaurants:     len(s.restaurants),
		Loading:         s.loading,
		ProgressMessage: s.progressMessage,
		ErrorMessage:    s.errorMessage,
		TotalLoaded:     s.totalLoaded,
	}
	if s.lastUpdated != nil {
		t := *s.lastUpdated
		snap.LastUpdated = &t
	}
	return snap
}

// ReplaceRestaurants publishes a new set. A zero lastUpdated clears the timestamp.
func (s *AppState) ReplaceRestaurants(restaurants []models.Restaurant, lastUpdated time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants = restaurants
	if lastUpdated.IsZero() {
		s.lastUpdated = nil
	} else {
		t := lastUpdated
		s.lastUpdated = &t
	}
}

// BeginLoading marks a refresh as started
func (s *AppState) BeginLoading(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
	s.errorMessage = ""
	s.progressMessage = message
	s.totalLoaded = 0
}

// SetProgress updates the running count and message of a refresh
func (s *AppState) SetProgress(totalLoaded int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalLoaded = totalLoaded
	s.progressMessage = message
}

// FinishLoading ends a successful refresh
func (s *AppState) FinishLoading(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.progressMessage = message
}

// Fail ends a refresh with a user-visible error message
func (s *AppState) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.errorMessage = message
	s.progressMessage = ""
}

// Reset empties the state after all data was cleared
func (s *AppState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants = nil
	s.lastUpdated = nil
	s.loading = false
	s.progressMessage = ""
	s.errorMessage = ""
	s.totalLoaded = 0
}
