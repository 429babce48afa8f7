package models

import "time"

// DatasetSummary holds computed analytics over the current restaurant set
type DatasetSummary struct {
	TotalRestaurants   int            `json:"totalRestaurants"`
	TotalViolations    int            `json:"totalViolations"`
	CriticalViolations int            `json:"criticalViolations"`
	AverageScore       float64        `json:"averageScore"`
	MaxScore           int            `json:"maxScore"`
	ByBorough          map[string]int `json:"byBorough"`
	ByGrade            map[string]int `json:"byGrade"`
	WorstScores        []Restaurant   `json:"worstScores"`
	LastUpdated        *time.Time     `json:"lastUpdated,omitempty"`
}
