package report

import (
	"math"
	"sort"
)

// Rating grades an overall score.
type Rating string

const (
	RatingHealthy  Rating = "healthy"
	RatingWarning  Rating = "warning"
	RatingCritical Rating = "critical"
)

const (
	healthyScore = 80
	warningScore = 60
)

// Assessment rates a run numerically next to its overall status. The
// status stays the worst-result verdict; the score is an average and can
// read healthy while one result is not.
type Assessment struct {
	OverallScore    float64        `json:"overall_score" yaml:"overall_score"`
	Rating          Rating         `json:"rating" yaml:"rating"`
	ComponentScores map[string]int `json:"component_scores" yaml:"component_scores"`
}

// Assess averages the component scores. It returns nil when there is
// nothing to score.
func Assess(scores map[string]int) *Assessment {
	if len(scores) == 0 {
		return nil
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	a := &Assessment{ComponentScores: make(map[string]int, len(scores))}

	sum := 0
	for _, name := range names {
		a.ComponentScores[name] = scores[name]
		sum += scores[name]
	}

	a.OverallScore = math.Round(float64(sum)/float64(len(scores))*10) / 10

	switch {
	case a.OverallScore >= healthyScore:
		a.Rating = RatingHealthy
	case a.OverallScore >= warningScore:
		a.Rating = RatingWarning
	default:
		a.Rating = RatingCritical
	}

	return a
}
