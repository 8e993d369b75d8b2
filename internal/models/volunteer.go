package models

// AvailabilityMode says how quickly a volunteer can pick up a session.
type AvailabilityMode string

const (
	AvailabilityImmediate AvailabilityMode = "immediate"
	AvailabilityScheduled AvailabilityMode = "scheduled"
)

// VolunteerProfile is the availability record keyed by connection id while a
// volunteer sits in the matching pool. Removed from the pool the instant the
// volunteer accepts a match or disconnects.
type VolunteerProfile struct {
	ConnID          string           `json:"-"`
	Name            string           `json:"name,omitempty"`
	Languages       []string         `json:"languages"`
	Specializations []string         `json:"specializations"`
	Availability    AvailabilityMode `json:"availability"`
	ExperienceYears int              `json:"experience_years"`
	Rating          *float64         `json:"rating,omitempty"`
}

// VolunteerPublic is the subset of a profile shared with the user on match.
// The connection id stays server-side.
type VolunteerPublic struct {
	Name            string   `json:"name,omitempty"`
	Languages       []string `json:"languages"`
	Specializations []string `json:"specializations"`
	ExperienceYears int      `json:"experience_years"`
	Rating          *float64 `json:"rating,omitempty"`
}

// Public builds the user-visible view of the profile.
func (v *VolunteerProfile) Public() *VolunteerPublic {
	return &VolunteerPublic{
		Name:            v.Name,
		Languages:       v.Languages,
		Specializations: v.Specializations,
		ExperienceYears: v.ExperienceYears,
		Rating:          v.Rating,
	}
}

// MatchCriteria drives volunteer selection for a session.
type MatchCriteria struct {
	Languages       []string
	Specializations []string
	Exclude         map[string]struct{} // connection ids already tried
}
