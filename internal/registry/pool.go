package registry

import (
	"lifeline/internal/models"
)

// AddVolunteer places a volunteer in the availability pool. Re-announcing
// updates the profile in place without losing the original pool position, so
// matching order stays stable across profile refreshes.
func (r *Registry) AddVolunteer(profile *models.VolunteerProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.volunteers[profile.ConnID]; !ok {
		r.volunteerOrder = append(r.volunteerOrder, profile.ConnID)
	}
	r.volunteers[profile.ConnID] = profile
}

// TakeVolunteer removes a volunteer from the pool the instant a match is
// accepted, returning the profile. The second return is false if the
// volunteer was not in the pool (already taken or disconnected).
func (r *Registry) TakeVolunteer(connID string) (*models.VolunteerProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.volunteers[connID]
	if !ok {
		return nil, false
	}
	r.removeVolunteerLocked(connID)
	return profile, true
}

// VolunteerPool returns the availability pool in insertion order.
func (r *Registry) VolunteerPool() []*models.VolunteerProfile {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool := make([]*models.VolunteerProfile, 0, len(r.volunteerOrder))
	for _, id := range r.volunteerOrder {
		if p, ok := r.volunteers[id]; ok {
			pool = append(pool, p)
		}
	}
	return pool
}

func (r *Registry) removeVolunteerLocked(connID string) {
	if _, ok := r.volunteers[connID]; !ok {
		return
	}
	delete(r.volunteers, connID)
	for i, id := range r.volunteerOrder {
		if id == connID {
			r.volunteerOrder = append(r.volunteerOrder[:i], r.volunteerOrder[i+1:]...)
			break
		}
	}
}

// AddProfessional marks a licensed professional as available for escalations.
func (r *Registry) AddProfessional(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.professionals[connID]; ok {
		return
	}
	r.professionals[connID] = struct{}{}
	r.professionalOrder = append(r.professionalOrder, connID)
}

// TakeProfessional claims the longest-waiting available professional,
// removing them from the pool. Returns false if none are available.
func (r *Registry) TakeProfessional() (*models.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.professionalOrder {
		if _, ok := r.professionals[id]; !ok {
			continue
		}
		conn, ok := r.conns[id]
		if !ok {
			continue
		}
		r.removeProfessionalLocked(id)
		return conn, true
	}
	return nil, false
}

func (r *Registry) removeProfessionalLocked(connID string) {
	if _, ok := r.professionals[connID]; !ok {
		return
	}
	delete(r.professionals, connID)
	for i, id := range r.professionalOrder {
		if id == connID {
			r.professionalOrder = append(r.professionalOrder[:i], r.professionalOrder[i+1:]...)
			break
		}
	}
}

// SubscribeMonitoring adds a connection to the metrics push group.
func (r *Registry) SubscribeMonitoring(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		r.monitoring[connID] = struct{}{}
	}
}

// MonitoringSubscribers returns the connections subscribed to metrics pushes.
func (r *Registry) MonitoringSubscribers() []*models.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]*models.Connection, 0, len(r.monitoring))
	for id := range r.monitoring {
		if conn, ok := r.conns[id]; ok {
			subs = append(subs, conn)
		}
	}
	return subs
}
