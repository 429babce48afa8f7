package models

import (
	"strings"
	"time"
)

// Defaults applied when the source leaves a field blank
const (
	DefaultGrade    = "N/A"
	DefaultFoodType = "Unknown"
	DefaultAddress  = "Address not available"
	DefaultBorough  = "Unknown"
)

// Grades lists the grade filter values in display order
var Grades = []string{"A", "B", "C", DefaultGrade}

// Violation is a single cited violation from one inspection row
type Violation struct {
	ID             string     `json:"id,omitempty"`
	Code           string     `json:"code,omitempty"`
	Description    string     `json:"description"`
	CriticalFlag   string     `json:"criticalFlag,omitempty"`
	InspectionDate *time.Time `json:"inspectionDate,omitempty"`
}

// ViolationID builds the identity of a violation from its code and the raw date string.
// Two citations with the same code on the same day collide.
func ViolationID(code, rawDate string) string {
	return code + "|" + rawDate
}

// IsCritical reports whether the citation was flagged critical
func (v Violation) IsCritical() bool {
	return strings.EqualFold(strings.TrimSpace(v.CriticalFlag), "critical")
}

// Coordinate is a WGS84 point
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Restaurant is the consolidated view of all inspection rows sharing one camis
type Restaurant struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Grade          string      `json:"grade"`
	FoodType       string      `json:"foodType"`
	Address        string      `json:"address"`
	Borough        string      `json:"borough"`
	ZipCode        string      `json:"zipCode"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	LastUpdated    time.Time   `json:"lastUpdated"`
	Phone          string      `json:"phone,omitempty"`
	Cuisine        string      `json:"cuisine,omitempty"`
	InspectionDate *time.Time  `json:"inspectionDate,omitempty"`
	Score          int         `json:"score"`
	Violations     []Violation `json:"violations"`
}

// Coordinate returns the restaurant location
func (r Restaurant) Coordinate() Coordinate {
	return Coordinate{Latitude: r.Latitude, Longitude: r.Longitude}
}

// DisplayAddress formats the address for a single line, e.g. "123 MAIN ST, Manhattan, NY 10001"
func (r Restaurant) DisplayAddress() string {
	return r.Address + ", " + r.Borough + ", NY " + r.ZipCode
}

// GradeColor maps the letter grade to the colour used by clients
func (r Restaurant) GradeColor() string {
	switch r.Grade {
	case "A":
		return "green"
	case "B":
		return "yellow"
	case "C":
		return "red"
	default:
		return "gray"
	}
}

// CriticalViolations counts violations flagged critical
func (r Restaurant) CriticalViolations() int {
	n := 0
	for _, v := range r.Violations {
		if v.IsCritical() {
			n++
		}
	}
	return n
}

// RestaurantFilter narrows a query. Zero values mean "no constraint".
type RestaurantFilter struct {
	Borough  string
	Search   string
	Grade    string
	Cuisine  string
	MinScore *int
	MaxScore *int
}

// Page is one window of a filtered, ordered result set
type Page struct {
	Items   []Restaurant `json:"items"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
	HasMore bool         `json:"hasMore"`
}

// NearbyResult pairs a restaurant with its distance from the query centre
type NearbyResult struct {
	Restaurant    Restaurant `json:"restaurant"`
	DistanceMiles float64    `json:"distanceMiles"`
}
