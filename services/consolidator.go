package services

import (
	"math"
	"strconv"
	"strings"
	"time"

	"abceats/models"
	"abceats/utils"
)

// Date layouts seen in the inspection feed, tried in order
var inspectionDateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ConsolidationStats counts what one Consolidate call kept and dropped
type ConsolidationStats struct {
	Rows               int
	Groups             int
	Restaurants        int
	InvalidCoordinates int
	MissingIdentifier  int
}

// Add accumulates another batch's counters
func (s *ConsolidationStats) Add(o ConsolidationStats) {
	s.Rows += o.Rows
	s.Groups += o.Groups
	s.Restaurants += o.Restaurants
	s.InvalidCoordinates += o.InvalidCoordinates
	s.MissingIdentifier += o.MissingIdentifier
}

// Consolidator folds raw inspection rows into one Restaurant per camis
type Consolidator struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewConsolidator creates a Consolidator stamping records with the wall clock
func NewConsolidator(logger *utils.Logger) *Consolidator {
	return &Consolidator{logger: logger, now: time.Now}
}

// Consolidate groups rows by identifier and builds a Restaurant from the most
// recent inspection of each group. Groups come out in first-appearance order.
// Restaurants without usable coordinates are dropped and counted.
func (c *Consolidator) Consolidate(rows []models.InspectionRecord) ([]models.Restaurant, ConsolidationStats) {
	stats := ConsolidationStats{Rows: len(rows)}

	var order []string
	groups := make(map[string][]models.InspectionRecord)
	for _, r := range rows {
		id := strings.TrimSpace(r.Camis)
		if id == "" {
			stats.MissingIdentifier++
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}
	stats.Groups = len(order)

	now := c.now().UTC()
	restaurants := make([]models.Restaurant, 0, len(order))
	for _, id := range order {
		group := groups[id]
		canonical := mostRecent(group)

		lat, lon, ok := parseCoordinates(canonical.Latitude, canonical.Longitude)
		if !ok {
			stats.InvalidCoordinates++
			continue
		}

		restaurant := buildRestaurant(id, canonical, lat, lon, now)
		restaurant.Violations = collectViolations(group)
		restaurants = append(restaurants, restaurant)
	}
	stats.Restaurants = len(restaurants)

	c.logger.Debug("Consolidated %d rows into %d restaurants (%d without coordinates, %d without identifier)",
		stats.Rows, stats.Restaurants, stats.InvalidCoordinates, stats.MissingIdentifier)
	return restaurants, stats
}

// mostRecent picks the row with the latest parseable inspection date. Ties keep
// the earlier row; a group with no parseable date yields its first row.
func mostRecent(group []models.InspectionRecord) models.InspectionRecord {
	best := group[0]
	bestDate := ParseInspectionDate(best.InspectionDate)
	for _, r := range group[1:] {
		d := ParseInspectionDate(r.InspectionDate)
		if d == nil {
			continue
		}
		if bestDate == nil || d.After(*bestDate) {
			best, bestDate = r, d
		}
	}
	return best
}

func buildRestaurant(id string, r models.InspectionRecord, lat, lon float64, now time.Time) models.Restaurant {
	address := strings.TrimSpace(strings.TrimSpace(r.Building) + " " + strings.TrimSpace(r.Street))
	if address == "" {
		address = models.DefaultAddress
	}

	return models.Restaurant{
		ID:             id,
		Name:           strings.TrimSpace(r.Dba),
		Grade:          orDefault(r.Grade, models.DefaultGrade),
		FoodType:       orDefault(r.CuisineDescription, models.DefaultFoodType),
		Address:        address,
		Borough:        orDefault(r.Boro, models.DefaultBorough),
		ZipCode:        strings.TrimSpace(r.Zipcode),
		Latitude:       lat,
		Longitude:      lon,
		LastUpdated:    now,
		Phone:          strings.TrimSpace(r.Phone),
		Cuisine:        strings.TrimSpace(r.CuisineDescription),
		InspectionDate: ParseInspectionDate(r.InspectionDate),
		Score:          parseScore(r.Score),
	}
}

func collectViolations(group []models.InspectionRecord) []models.Violation {
	var violations []models.Violation
	for _, r := range group {
		desc := strings.TrimSpace(r.ViolationDescription)
		if desc == "" {
			continue
		}
		code := strings.TrimSpace(r.ViolationCode)
		violations = append(violations, models.Violation{
			ID:             models.ViolationID(code, r.InspectionDate),
			Code:           code,
			Description:    desc,
			CriticalFlag:   strings.TrimSpace(r.CriticalFlag),
			InspectionDate: ParseInspectionDate(r.InspectionDate),
		})
	}
	return violations
}

// ParseInspectionDate parses the feed's date strings as UTC, returning nil
// when none of the known layouts match
func ParseInspectionDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range inspectionDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func parseCoordinates(rawLat, rawLon string) (float64, float64, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(rawLat), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(rawLon), 64)
	if err != nil {
		return 0, 0, false
	}
	if lat == 0 || lon == 0 || !isFinite(lat) || !isFinite(lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parseScore reads the string-encoded score, defaulting to 0
func parseScore(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
