package coordinator

import (
	"testing"

	"lifeline/internal/models"
)

func rating(v float64) *float64 { return &v }

func TestScoreWeights(t *testing.T) {
	criteria := models.MatchCriteria{
		Languages:       []string{"en", "es"},
		Specializations: []string{"suicidal-ideation", "anxiety"},
	}
	candidate := &models.VolunteerProfile{
		ConnID:          "v1",
		Languages:       []string{"en"},
		Specializations: []string{"anxiety"},
		ExperienceYears: 3,
		Rating:          rating(4.5),
		Availability:    models.AvailabilityImmediate,
	}

	// 10*1 + 5*1 + 2*3 + 3*4.5 + 15 = 49.5
	if got := Score(candidate, criteria); got != 49.5 {
		t.Errorf("score = %v, want 49.5", got)
	}
}

func TestScoreWithoutRatingOrAvailability(t *testing.T) {
	candidate := &models.VolunteerProfile{
		ConnID:          "v1",
		ExperienceYears: 2,
		Availability:    models.AvailabilityScheduled,
	}
	// 2*2 = 4; no rating term, no immediate bonus
	if got := Score(candidate, models.MatchCriteria{}); got != 4 {
		t.Errorf("score = %v, want 4", got)
	}
}

func TestScoreCountsDuplicateLanguagesOnce(t *testing.T) {
	criteria := models.MatchCriteria{Languages: []string{"en"}}
	candidate := &models.VolunteerProfile{
		Languages:    []string{"en", "en", "en"},
		Availability: models.AvailabilityScheduled,
	}
	if got := Score(candidate, criteria); got != 10 {
		t.Errorf("score = %v, want 10", got)
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	pool := []*models.VolunteerProfile{
		{ConnID: "v1", ExperienceYears: 1},
		{ConnID: "v2", ExperienceYears: 5},
		{ConnID: "v3", ExperienceYears: 3},
	}
	criteria := models.MatchCriteria{}

	for i := 0; i < 10; i++ {
		if got := Match(pool, criteria); got.ConnID != "v2" {
			t.Fatalf("run %d: match = %s, want v2", i, got.ConnID)
		}
	}
}

func TestMatchTieBreaksOnPoolOrder(t *testing.T) {
	pool := []*models.VolunteerProfile{
		{ConnID: "first", ExperienceYears: 2},
		{ConnID: "second", ExperienceYears: 2},
	}
	if got := Match(pool, models.MatchCriteria{}); got.ConnID != "first" {
		t.Errorf("match = %s, want the earlier pool entry", got.ConnID)
	}
}

func TestMatchHonorsExclusions(t *testing.T) {
	pool := []*models.VolunteerProfile{
		{ConnID: "v1", ExperienceYears: 9},
		{ConnID: "v2", ExperienceYears: 1},
	}
	criteria := models.MatchCriteria{
		Exclude: map[string]struct{}{"v1": {}},
	}
	if got := Match(pool, criteria); got.ConnID != "v2" {
		t.Errorf("match = %s, want v2", got.ConnID)
	}

	criteria.Exclude["v2"] = struct{}{}
	if got := Match(pool, criteria); got != nil {
		t.Errorf("match = %v, want nil when everyone is excluded", got)
	}
}

func TestMatchEmptyPool(t *testing.T) {
	if got := Match(nil, models.MatchCriteria{}); got != nil {
		t.Errorf("match = %v, want nil", got)
	}
}

func TestMatchPrefersZeroScoreOverNothing(t *testing.T) {
	// A candidate scoring zero still beats no candidate at all.
	pool := []*models.VolunteerProfile{
		{ConnID: "v1", Availability: models.AvailabilityScheduled},
	}
	if got := Match(pool, models.MatchCriteria{}); got == nil || got.ConnID != "v1" {
		t.Errorf("match = %v, want v1", got)
	}
}
