package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"abceats/models"
)

// PrintSummary formats the dataset summary for the terminal
func PrintSummary(w io.Writer, summary *models.DatasetSummary) {
	border := strings.Repeat("═", 55)
	thin := strings.Repeat("─", 55)

	fmt.Fprintf(w, "\n╔%s╗\n", border)
	fmt.Fprintf(w, "║%s║\n", center("NYC RESTAURANT INSPECTION SUMMARY", 55))
	fmt.Fprintf(w, "╚%s╝\n", border)

	fmt.Fprintf(w, "\n OVERVIEW\n%s\n", thin)
	fmt.Fprintf(w, "  Restaurants             : %d\n", summary.TotalRestaurants)
	fmt.Fprintf(w, "  Violations              : %d\n", summary.TotalViolations)
	fmt.Fprintf(w, "  Critical Violations     : %d\n", summary.CriticalViolations)
	fmt.Fprintf(w, "  Average Score           : %.1f\n", summary.AverageScore)
	fmt.Fprintf(w, "  Highest Score           : %d\n", summary.MaxScore)
	if summary.LastUpdated != nil {
		fmt.Fprintf(w, "  Last Updated            : %s\n", summary.LastUpdated.Local().Format(time.RFC1123))
	}

	if len(summary.ByGrade) > 0 {
		fmt.Fprintf(w, "\n RESTAURANTS PER GRADE\n%s\n", thin)
		for _, grade := range models.Grades {
			if n, ok := summary.ByGrade[grade]; ok {
				fmt.Fprintf(w, "  %-25s %6d  (%s)\n", grade+":", n, models.Restaurant{Grade: grade}.GradeColor())
			}
		}
		var other []string
		for grade := range summary.ByGrade {
			if !isKnownGrade(grade) {
				other = append(other, grade)
			}
		}
		sort.Strings(other)
		for _, grade := range other {
			fmt.Fprintf(w, "  %-25s %6d  (%s)\n", grade+":", summary.ByGrade[grade], models.Restaurant{Grade: grade}.GradeColor())
		}
	}

	if len(summary.ByBorough) > 0 {
		fmt.Fprintf(w, "\n RESTAURANTS PER BOROUGH\n%s\n", thin)
		type boroughCount struct {
			borough string
			count   int
		}
		var counts []boroughCount
		for b, n := range summary.ByBorough {
			counts = append(counts, boroughCount{b, n})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].count != counts[j].count {
				return counts[i].count > counts[j].count
			}
			return counts[i].borough < counts[j].borough
		})
		for _, bc := range counts {
			bar := strings.Repeat("▓", barLength(bc.count, summary.TotalRestaurants, 20))
			fmt.Fprintf(w, "  %-25s %6d  %s\n", bc.borough+":", bc.count, bar)
		}
	}

	if len(summary.WorstScores) > 0 {
		fmt.Fprintf(w, "\n TOP %d HIGHEST (WORST) SCORES\n%s\n", len(summary.WorstScores), thin)
		for i, r := range summary.WorstScores {
			fmt.Fprintf(w, "  %d. %-35s %3d  %s\n", i+1, truncate(r.Name, 35), r.Score, r.Borough)
		}
	}

	fmt.Fprintf(w, "\n%s\n\n", border)
}

func isKnownGrade(grade string) bool {
	for _, g := range models.Grades {
		if g == grade {
			return true
		}
	}
	return false
}

func barLength(count, total, width int) int {
	if total == 0 {
		return 0
	}
	n := count * width / total
	if n == 0 && count > 0 {
		n = 1
	}
	return n
}

func center(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return s
	}
	pad := (width - len(runes)) / 2
	return strings.Repeat(" ", pad) + s + strings.Repeat(" ", width-len(runes)-pad)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
