package services

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"abceats/metrics"
	"abceats/models"
)

const (
	DefaultPageSize    = 50
	DefaultNearbyLimit = 100

	earthRadiusMiles  = 3958.8
	milesPerDegreeLat = 69.0
	milesPerDegreeLon = 54.6

	// how many records to scan between context checks
	cancelCheckInterval = 1024
)

// QueryService answers browse, search and proximity queries over the current
// AppState snapshot. Filtering runs on the caller's goroutine.
type QueryService struct {
	state   *AppState
	metrics *metrics.Metrics
}

// NewQueryService creates a QueryService reading from state
func NewQueryService(state *AppState, m *metrics.Metrics) *QueryService {
	return &QueryService{state: state, metrics: m}
}

type matcher struct {
	filter models.RestaurantFilter
	search string
	caser  cases.Caser
}

func newMatcher(filter models.RestaurantFilter) *matcher {
	caser := cases.Fold()
	return &matcher{
		filter: filter,
		search: caser.String(strings.TrimSpace(filter.Search)),
		caser:  caser,
	}
}

func (m *matcher) fold(s string) string {
	return m.caser.String(s)
}

func (m *matcher) matches(r *models.Restaurant) bool {
	f := m.filter
	if b := strings.TrimSpace(f.Borough); b != "" && !strings.EqualFold(r.Borough, b) {
		return false
	}
	if g := strings.TrimSpace(f.Grade); g != "" && !strings.EqualFold(r.Grade, g) {
		return false
	}
	if c := strings.TrimSpace(f.Cuisine); c != "" && !strings.EqualFold(r.FoodType, c) && !strings.EqualFold(r.Cuisine, c) {
		return false
	}
	if f.MinScore != nil && r.Score < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && r.Score > *f.MaxScore {
		return false
	}
	if m.search == "" {
		return true
	}
	return strings.Contains(m.fold(r.Name), m.search) ||
		strings.Contains(m.fold(r.Address), m.search) ||
		(r.Cuisine != "" && strings.Contains(m.fold(r.Cuisine), m.search))
}

type ranked struct {
	r     *models.Restaurant
	key   string
	exact bool
}

// filtered returns the matching restaurants in query order
func (s *QueryService) filtered(ctx context.Context, filter models.RestaurantFilter) ([]ranked, error) {
	all := s.state.Restaurants()
	m := newMatcher(filter)

	var out []ranked
	for i := range all {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := &all[i]
		if !m.matches(r) {
			continue
		}
		key := m.fold(r.Name)
		out = append(out, ranked{r: r, key: key, exact: m.search != "" && key == m.search})
	}

	slices.SortFunc(out, func(a, b ranked) int {
		if a.exact != b.exact {
			if a.exact {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.key, b.key); c != 0 {
			return c
		}
		if c := strings.Compare(a.r.Name, b.r.Name); c != 0 {
			return c
		}
		return strings.Compare(a.r.ID, b.r.ID)
	})
	return out, nil
}

// Query returns one page of restaurants matching filter. A non-positive limit
// uses DefaultPageSize; an offset past the end yields an empty page.
func (s *QueryService) Query(ctx context.Context, filter models.RestaurantFilter, offset, limit int) (models.Page, error) {
	defer s.metrics.ObserveQuery("query", time.Now())

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	matched, err := s.filtered(ctx, filter)
	if err != nil {
		return models.Page{}, err
	}

	page := models.Page{
		Items:   []models.Restaurant{},
		Total:   len(matched),
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+limit < len(matched),
	}
	if offset >= len(matched) {
		return page, nil
	}
	end := min(offset+limit, len(matched))
	page.Items = make([]models.Restaurant, 0, end-offset)
	for _, m := range matched[offset:end] {
		page.Items = append(page.Items, *m.r)
	}
	return page, nil
}

// Count returns how many restaurants match filter
func (s *QueryService) Count(ctx context.Context, filter models.RestaurantFilter) (int, error) {
	defer s.metrics.ObserveQuery("count", time.Now())

	all := s.state.Restaurants()
	m := newMatcher(filter)
	n := 0
	for i := range all {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if m.matches(&all[i]) {
			n++
		}
	}
	return n, nil
}

// Nearby returns restaurants within radiusMiles of center, closest first.
// Candidates are pre-filtered with a bounding box, then measured exactly.
func (s *QueryService) Nearby(ctx context.Context, center models.Coordinate, radiusMiles float64, limit int) ([]models.NearbyResult, error) {
	defer s.metrics.ObserveQuery("nearby", time.Now())

	if limit <= 0 {
		limit = DefaultNearbyLimit
	}
	results := []models.NearbyResult{}
	if radiusMiles <= 0 || math.IsNaN(radiusMiles) {
		return results, nil
	}

	latDelta := radiusMiles / milesPerDegreeLat
	lonDelta := radiusMiles / milesPerDegreeLon
	minLat, maxLat := center.Latitude-latDelta, center.Latitude+latDelta
	minLon, maxLon := center.Longitude-lonDelta, center.Longitude+lonDelta

	all := s.state.Restaurants()
	for i := range all {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := &all[i]
		if r.Latitude < minLat || r.Latitude > maxLat || r.Longitude < minLon || r.Longitude > maxLon {
			continue
		}
		d := HaversineMiles(center, r.Coordinate())
		if d > radiusMiles {
			continue
		}
		results = append(results, models.NearbyResult{Restaurant: *r, DistanceMiles: d})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].DistanceMiles != results[j].DistanceMiles {
			return results[i].DistanceMiles < results[j].DistanceMiles
		}
		return results[i].Restaurant.ID < results[j].Restaurant.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get returns the restaurant with the given id
func (s *QueryService) Get(id string) (models.Restaurant, error) {
	for _, r := range s.state.Restaurants() {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Restaurant{}, ErrNotFound
}

// AvailableBoroughs returns the distinct boroughs in sorted order
func (s *QueryService) AvailableBoroughs() []string {
	seen := make(map[string]struct{})
	for _, r := range s.state.Restaurants() {
		seen[r.Borough] = struct{}{}
	}
	return sortedKeys(seen)
}

// AvailableCuisines returns the distinct food types, optionally within one borough
func (s *QueryService) AvailableCuisines(borough string) []string {
	borough = strings.TrimSpace(borough)
	seen := make(map[string]struct{})
	for _, r := range s.state.Restaurants() {
		if borough != "" && !strings.EqualFold(r.Borough, borough) {
			continue
		}
		seen[r.FoodType] = struct{}{}
	}
	return sortedKeys(seen)
}

// AvailableGrades returns the grade filter values
func (s *QueryService) AvailableGrades() []string {
	return slices.Clone(models.Grades)
}

// HaversineMiles is the great-circle distance between two points
func HaversineMiles(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
