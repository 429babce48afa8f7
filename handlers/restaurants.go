package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"abceats/models"
	"abceats/services"
	"abceats/utils"
)

const (
	maxPageSize          = 500
	defaultRadiusMiles   = 1.0
	maxNearbyRadiusMiles = 50.0
)

// RestaurantHandler serves the query layer and the refresh controls
type RestaurantHandler struct {
	query    *services.QueryService
	syncer   *services.Syncer
	insights *services.InsightService
	state    *services.AppState
	logger   *utils.Logger
	// background outlives single requests; refreshes started over HTTP use it
	background context.Context
}

// NewRestaurantHandler creates the handler. background bounds refreshes the
// API starts and is usually cancelled on shutdown.
func NewRestaurantHandler(
	background context.Context,
	query *services.QueryService,
	syncer *services.Syncer,
	insights *services.InsightService,
	state *services.AppState,
	logger *utils.Logger,
) *RestaurantHandler {
	return &RestaurantHandler{
		query:      query,
		syncer:     syncer,
		insights:   insights,
		state:      state,
		logger:     logger.Named("api"),
		background: background,
	}
}

// List handles GET /api/restaurants
func (h *RestaurantHandler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}
	limit, err := intQuery(c, "limit", services.DefaultPageSize)
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxPageSize)

	h.triggerIfStale()

	page, err := h.query.Query(c.Request.Context(), filter, offset, limit)
	if err != nil {
		h.queryFailed(c, err)
		return
	}
	successWithMeta(c, page.Items, &Meta{
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	})
}

// Count handles GET /api/restaurants/count
func (h *RestaurantHandler) Count(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	h.triggerIfStale()

	n, err := h.query.Count(c.Request.Context(), filter)
	if err != nil {
		h.queryFailed(c, err)
		return
	}
	success(c, gin.H{"count": n})
}

// Nearby handles GET /api/restaurants/nearby
func (h *RestaurantHandler) Nearby(c *gin.Context) {
	lat, err := floatQuery(c, "lat")
	if err != nil || lat < -90 || lat > 90 {
		badRequest(c, "lat must be a latitude between -90 and 90")
		return
	}
	lon, err := floatQuery(c, "lon")
	if err != nil || lon < -180 || lon > 180 {
		badRequest(c, "lon must be a longitude between -180 and 180")
		return
	}
	radius := defaultRadiusMiles
	if c.Query("radius") != "" {
		radius, err = floatQuery(c, "radius")
		if err != nil || radius <= 0 || radius > maxNearbyRadiusMiles {
			badRequest(c, fmt.Sprintf("radius must be between 0 and %g miles", maxNearbyRadiusMiles))
			return
		}
	}
	limit, err := intQuery(c, "limit", services.DefaultNearbyLimit)
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}

	results, err := h.query.Nearby(c.Request.Context(), models.Coordinate{Latitude: lat, Longitude: lon}, radius, min(limit, maxPageSize))
	if err != nil {
		h.queryFailed(c, err)
		return
	}
	success(c, results)
}

// Get handles GET /api/restaurants/:id
func (h *RestaurantHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	r, err := h.query.Get(id)
	if errors.Is(err, services.ErrNotFound) {
		notFound(c, fmt.Sprintf("restaurant %s not found", id))
		return
	}
	if err != nil {
		internalError(c, err.Error())
		return
	}
	success(c, r)
}

// Boroughs handles GET /api/boroughs
func (h *RestaurantHandler) Boroughs(c *gin.Context) {
	success(c, h.query.AvailableBoroughs())
}

// Cuisines handles GET /api/cuisines
func (h *RestaurantHandler) Cuisines(c *gin.Context) {
	success(c, h.query.AvailableCuisines(c.Query("borough")))
}

// Grades handles GET /api/grades
func (h *RestaurantHandler) Grades(c *gin.Context) {
	success(c, h.query.AvailableGrades())
}

// Summary handles GET /api/summary
func (h *RestaurantHandler) Summary(c *gin.Context) {
	last, _ := h.state.LastUpdated()
	success(c, h.insights.Generate(h.state.Restaurants(), last))
}

type statusResponse struct {
	services.StateSnapshot
	Refreshing bool `json:"refreshing"`
	Stale      bool `json:"stale"`
}

// Status handles GET /api/status
func (h *RestaurantHandler) Status(c *gin.Context) {
	success(c, statusResponse{
		StateSnapshot: h.state.Snapshot(),
		Refreshing:    h.syncer.IsRefreshing(),
		Stale:         h.syncer.IsStale(time.Now()),
	})
}

// Refresh handles POST /api/refresh
func (h *RestaurantHandler) Refresh(c *gin.Context) {
	if err := h.syncer.StartRefresh(h.background); err != nil {
		if errors.Is(err, services.ErrRefreshInProgress) {
			conflict(c, "a refresh is already running")
			return
		}
		internalError(c, err.Error())
		return
	}
	h.logger.Info("Refresh started via API (request %s)", c.GetString(requestIDKey))
	c.JSON(http.StatusAccepted, Response{Success: true, Data: gin.H{"started": true}})
}

// Clear handles DELETE /api/data
func (h *RestaurantHandler) Clear(c *gin.Context) {
	if err := h.syncer.ClearAll(c.Request.Context()); err != nil {
		if errors.Is(err, services.ErrRefreshInProgress) {
			conflict(c, "cannot clear data while a refresh is running")
			return
		}
		internalError(c, err.Error())
		return
	}
	success(c, gin.H{"cleared": true})
}

func (h *RestaurantHandler) triggerIfStale() {
	if h.syncer.TriggerIfStale(h.background) {
		h.logger.Info("Data is stale, background refresh started")
	}
}

func (h *RestaurantHandler) queryFailed(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// client went away
		fail(c, 499, ErrCodeCancelled, "request cancelled")
		return
	}
	_ = c.Error(err)
	internalError(c, err.Error())
}

func parseFilter(c *gin.Context) (models.RestaurantFilter, error) {
	filter := models.RestaurantFilter{
		Borough: strings.TrimSpace(c.Query("borough")),
		Search:  strings.TrimSpace(c.Query("q")),
		Grade:   strings.TrimSpace(c.Query("grade")),
		Cuisine: strings.TrimSpace(c.Query("cuisine")),
	}
	var err error
	if filter.MinScore, err = optionalInt(c, "min_score"); err != nil {
		return filter, err
	}
	if filter.MaxScore, err = optionalInt(c, "max_score"); err != nil {
		return filter, err
	}
	if filter.MinScore != nil && filter.MaxScore != nil && *filter.MinScore > *filter.MaxScore {
		return filter, errors.New("min_score must not exceed max_score")
	}
	return filter, nil
}

func optionalInt(c *gin.Context, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &n, nil
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func floatQuery(c *gin.Context, key string) (float64, error) {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s is not finite", key)
	}
	return v, nil
}
