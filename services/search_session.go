package services

import (
	"context"
	"sync"

	"abceats/models"
)

// Searcher runs a filtered, paged query. QueryService satisfies it.
type Searcher interface {
	Query(ctx context.Context, filter models.RestaurantFilter, offset, limit int) (models.Page, error)
}

// SearchSession runs type-ahead searches where only the latest submission
// counts. Each Submit cancels the search before it, and a result is handed to
// its callback only if no newer search was submitted (or Cancel called) while
// it ran. Deliveries run one at a time, so a superseded result is never
// applied after a newer one. deliver must not call Submit or Cancel.
type SearchSession struct {
	searcher Searcher

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// held across the current-generation check and the deliver call
	deliverMu sync.Mutex
}

func NewSearchSession(searcher Searcher) *SearchSession {
	return &SearchSession{searcher: searcher}
}

// Submit starts a search in the background and returns its generation
func (s *SearchSession) Submit(ctx context.Context, filter models.RestaurantFilter, offset, limit int, deliver func(models.Page, error)) uint64 {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	searchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		page, err := s.searcher.Query(searchCtx, filter, offset, limit)

		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if !s.isCurrent(gen) {
			return
		}
		deliver(page, err)
	}()
	return gen
}

// Cancel discards the in-flight search, if any
func (s *SearchSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}

// Generation returns the number of the latest submission
func (s *SearchSession) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Wait blocks until every submitted search has finished
func (s *SearchSession) Wait() {
	s.wg.Wait()
}

func (s *SearchSession) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}
