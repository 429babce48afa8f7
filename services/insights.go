package services

import (
	"sort"
	"time"

	"abceats/models"
	"abceats/utils"
)

const worstScoresLimit = 5

// InsightService computes analytics from the consolidated dataset
type InsightService struct {
	logger *utils.Logger
}

// NewInsightService creates a new InsightService
func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate computes the dataset summary. Higher inspection scores are worse,
// so WorstScores lists the highest-scoring restaurants.
func (s *InsightService) Generate(restaurants []models.Restaurant, lastUpdated time.Time) *models.DatasetSummary {
	summary := &models.DatasetSummary{
		ByBorough:   make(map[string]int),
		ByGrade:     make(map[string]int),
		WorstScores: []models.Restaurant{},
	}
	if !lastUpdated.IsZero() {
		t := lastUpdated
		summary.LastUpdated = &t
	}

	if len(restaurants) == 0 {
		s.logger.Warn("No restaurants to generate insights from")
		return summary
	}

	totalScore := 0
	for _, r := range restaurants {
		summary.TotalRestaurants++
		summary.ByBorough[r.Borough]++
		summary.ByGrade[r.Grade]++

		totalScore += r.Score
		if r.Score > summary.MaxScore {
			summary.MaxScore = r.Score
		}

		summary.TotalViolations += len(r.Violations)
		summary.CriticalViolations += r.CriticalViolations()
	}
	summary.AverageScore = float64(totalScore) / float64(summary.TotalRestaurants)

	scored := make([]models.Restaurant, 0, len(restaurants))
	for _, r := range restaurants {
		if r.Score > 0 {
			scored = append(scored, r)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	summary.WorstScores = scored[:min(worstScoresLimit, len(scored))]

	return summary
}
