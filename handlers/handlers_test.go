package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abceats/metrics"
	"abceats/models"
	"abceats/services"
	"abceats/storage"
	"abceats/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubFetcher serves a fixed set of rows in a single page
type stubFetcher struct {
	rows  []models.InspectionRecord
	block chan struct{}
}

func (f *stubFetcher) PageSize() int { return 1000 }

func (f *stubFetcher) FetchPage(ctx context.Context, offset, limit int) ([]models.InspectionRecord, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if offset > 0 {
		return nil, nil
	}
	return f.rows, nil
}

type apiFixture struct {
	router  http.Handler
	state   *services.AppState
	syncer  *services.Syncer
	fetcher *stubFetcher
	metrics *metrics.Metrics
}

func sample(id, name, borough, cuisine, grade string, score int, lat, lon float64) models.Restaurant {
	return models.Restaurant{
		ID:        id,
		Name:      name,
		Grade:     grade,
		FoodType:  cuisine,
		Cuisine:   cuisine,
		Address:   "1 MAIN ST",
		Borough:   borough,
		Latitude:  lat,
		Longitude: lon,
		Score:     score,
	}
}

func newAPIFixture(t *testing.T, lastUpdated time.Time) *apiFixture {
	t.Helper()
	logger := utils.NewNopLogger()
	m := metrics.New()

	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	store := storage.NewBlobStore(kv, logger)

	state := services.NewAppState()
	state.ReplaceRestaurants([]models.Restaurant{
		sample("1", "JOE'S PIZZA", "Manhattan", "Pizza", "A", 9, 40.7306, -74.0028),
		sample("2", "PIZZA", "Manhattan", "Pizza", "B", 20, 40.7310, -74.0030),
		sample("3", "BROOKLYN BAGEL", "Brooklyn", "Bagels/Pretzels", "A", 5, 40.6782, -73.9442),
		sample("4", "QUEENS CURRY", "Queens", "Indian", "C", 35, 40.7282, -73.7949),
	}, lastUpdated)

	row := models.InspectionRecord{
		Camis: "9", Dba: "NEW PLACE", Boro: "Bronx", Building: "5", Street: "GRAND CONCOURSE",
		InspectionDate: "2024-05-01T00:00:00.000", Grade: "A",
		Latitude: "40.84", Longitude: "-73.91",
	}
	fetcher := &stubFetcher{rows: []models.InspectionRecord{row}}
	syncer := services.NewSyncer(fetcher, store, nil, state, 24*time.Hour, logger, m)
	t.Cleanup(syncer.Wait)

	h := NewRestaurantHandler(context.Background(), services.NewQueryService(state, m), syncer,
		services.NewInsightService(logger), state, logger)
	router := NewRouter(h, RouterConfig{
		AllowOrigins: []string{"http://localhost:5173"},
		Metrics:      m,
		Logger:       logger,
	})
	return &apiFixture{router: router, state: state, syncer: syncer, fetcher: fetcher, metrics: m}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
	Meta    *Meta           `json:"meta"`
}

func (f *apiFixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestListRestaurants(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	w, env := f.do(t, http.MethodGet, "/api/restaurants?borough=manhattan&q=pizza&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 2, env.Meta.Total)
	assert.Equal(t, 1, env.Meta.Limit)
	assert.True(t, env.Meta.HasMore)

	items := decode[[]models.Restaurant](t, env.Data)
	require.Len(t, items, 1)
	// exact name match sorts first
	assert.Equal(t, "PIZZA", items[0].Name)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestListRestaurantsScoreFilters(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	_, env := f.do(t, http.MethodGet, "/api/restaurants?min_score=10&max_score=30")
	items := decode[[]models.Restaurant](t, env.Data)
	require.Len(t, items, 1)
	assert.Equal(t, "2", items[0].ID)

	w, env := f.do(t, http.MethodGet, "/api/restaurants?min_score=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeBadRequest, env.Error.Code)

	w, _ = f.do(t, http.MethodGet, "/api/restaurants?min_score=30&max_score=10")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRestaurantsRejectsBadPaging(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	for _, target := range []string{
		"/api/restaurants?offset=-1",
		"/api/restaurants?limit=0",
		"/api/restaurants?limit=ten",
	} {
		w, _ := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	_, env := f.do(t, http.MethodGet, "/api/restaurants?offset=100")
	assert.Equal(t, "[]", string(env.Data))
	assert.False(t, env.Meta.HasMore)
}

func TestCountRestaurants(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	_, env := f.do(t, http.MethodGet, "/api/restaurants/count?grade=a")
	got := decode[map[string]int](t, env.Data)
	assert.Equal(t, 2, got["count"])
}

func TestStaleDataTriggersBackgroundRefresh(t *testing.T) {
	f := newAPIFixture(t, time.Now().Add(-48*time.Hour))

	w, _ := f.do(t, http.MethodGet, "/api/restaurants/count")
	require.Equal(t, http.StatusOK, w.Code)

	f.syncer.Wait()
	restaurants := f.state.Restaurants()
	require.Len(t, restaurants, 1)
	assert.Equal(t, "9", restaurants[0].ID)
	assert.False(t, f.syncer.IsStale(time.Now()))
}

func TestNearby(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	_, env := f.do(t, http.MethodGet, "/api/restaurants/nearby?lat=40.7306&lon=-74.0028&radius=0.5")
	results := decode[[]models.NearbyResult](t, env.Data)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].Restaurant.ID)
	assert.LessOrEqual(t, results[0].DistanceMiles, results[1].DistanceMiles)

	for _, target := range []string{
		"/api/restaurants/nearby?lon=-74",
		"/api/restaurants/nearby?lat=91&lon=-74",
		"/api/restaurants/nearby?lat=40&lon=-74&radius=-1",
		"/api/restaurants/nearby?lat=NaN&lon=-74",
	} {
		w, _ := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestGetRestaurant(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	w, env := f.do(t, http.MethodGet, "/api/restaurants/3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BROOKLYN BAGEL", decode[models.Restaurant](t, env.Data).Name)

	w, env = f.do(t, http.MethodGet, "/api/restaurants/404")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeNotFound, env.Error.Code)
	assert.NotEmpty(t, env.Error.RequestID)
}

func TestAvailableValues(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	_, env := f.do(t, http.MethodGet, "/api/boroughs")
	assert.Equal(t, []string{"Brooklyn", "Manhattan", "Queens"}, decode[[]string](t, env.Data))

	_, env = f.do(t, http.MethodGet, "/api/cuisines?borough=Manhattan")
	assert.Equal(t, []string{"Pizza"}, decode[[]string](t, env.Data))

	_, env = f.do(t, http.MethodGet, "/api/grades")
	assert.Equal(t, models.Grades, decode[[]string](t, env.Data))
}

func TestSummaryAndStatus(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	_, env := f.do(t, http.MethodGet, "/api/summary")
	summary := decode[models.DatasetSummary](t, env.Data)
	assert.Equal(t, 4, summary.TotalRestaurants)
	assert.Equal(t, 35, summary.MaxScore)

	_, env = f.do(t, http.MethodGet, "/api/status")
	status := decode[map[string]any](t, env.Data)
	assert.Equal(t, float64(4), status["restaurants"])
	assert.Equal(t, false, status["refreshing"])
	assert.Equal(t, false, status["stale"])
}

func TestRefreshConflict(t *testing.T) {
	f := newAPIFixture(t, time.Now())
	f.fetcher.block = make(chan struct{})

	w, env := f.do(t, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, env.Success)

	w, env = f.do(t, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeConflict, env.Error.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/data")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(f.fetcher.block)
	f.syncer.Wait()
	assert.Len(t, f.state.Restaurants(), 1)
}

func TestClearData(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	w, env := f.do(t, http.MethodDelete, "/api/data")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Empty(t, f.state.Restaurants())
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	w, _ := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := f.do(t, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)

	w, _ = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abceats_http_requests_total")
}

func TestCORS(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/boroughs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/boroughs", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}
