package coordinator

import (
	"math"

	"lifeline/internal/models"
)

// Scoring weights for volunteer matching. Deterministic so repeated calls
// over the same pool return the same volunteer.
const (
	languageWeight       = 10.0
	specializationWeight = 5.0
	experienceWeight     = 2.0
	ratingWeight         = 3.0
	immediateBonus       = 15.0
)

// Match scans the pool in insertion order and returns the highest-scoring
// candidate not in the exclusion set. Ties resolve first-encountered-wins.
// Returns nil when the pool is empty or every candidate is excluded.
func Match(pool []*models.VolunteerProfile, criteria models.MatchCriteria) *models.VolunteerProfile {
	var best *models.VolunteerProfile
	bestScore := math.Inf(-1)

	for _, candidate := range pool {
		if _, excluded := criteria.Exclude[candidate.ConnID]; excluded {
			continue
		}
		if score := Score(candidate, criteria); score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best
}

// Score computes the match score for one candidate:
//
//	10·|languages∩| + 5·|specializations∩| + 2·experienceYears
//	+ 3·rating (if present) + 15 if immediately available
func Score(candidate *models.VolunteerProfile, criteria models.MatchCriteria) float64 {
	score := languageWeight*float64(intersectCount(criteria.Languages, candidate.Languages)) +
		specializationWeight*float64(intersectCount(criteria.Specializations, candidate.Specializations)) +
		experienceWeight*float64(candidate.ExperienceYears)

	if candidate.Rating != nil {
		score += ratingWeight * (*candidate.Rating)
	}
	if candidate.Availability == models.AvailabilityImmediate {
		score += immediateBonus
	}
	return score
}

func intersectCount(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			n++
			delete(set, s) // duplicates in the candidate list count once
		}
	}
	return n
}
