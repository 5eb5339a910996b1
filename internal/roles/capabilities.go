// Package roles maps session roles to the privileged operations they may invoke.
package roles

import (
	"sort"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// Capability is a privileged operation.
type Capability string

const (
	MuteParticipant     Capability = "muteParticipant"
	RemoveParticipant   Capability = "removeParticipant"
	EndSession          Capability = "endSession"
	ControlRecording    Capability = "controlRecording"
	ViewAllAnalytics    Capability = "viewAllAnalytics"
	ManageUsers         Capability = "manageUsers"
	AccessSystemMetrics Capability = "accessSystemMetrics"
	GenerateReports     Capability = "generateReports"
)

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet struct {
	caps map[Capability]struct{}
}

func newSet(caps ...Capability) CapabilitySet {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return CapabilitySet{caps: m}
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.caps[c]
	return ok
}

// Len returns the number of capabilities.
func (s CapabilitySet) Len() int { return len(s.caps) }

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	moderatorCaps = []Capability{MuteParticipant, RemoveParticipant, EndSession, ControlRecording}
	adminCaps     = []Capability{ViewAllAnalytics, ManageUsers, AccessSystemMetrics, GenerateReports}
)

// For returns the capability set of role. Participants and unknown roles get the empty set.
func For(role models.Role) CapabilitySet {
	switch role {
	case models.RoleModerator:
		return newSet(moderatorCaps...)
	case models.RoleAdmin:
		return newSet(adminCaps...)
	}
	return newSet()
}

// Actor is the caller of a privileged action, resolved from the request at call time.
type Actor struct {
	ID   uuid.UUID
	Role models.Role
}

// Can reports whether the actor's role grants c.
func (a Actor) Can(c Capability) bool {
	return For(a.Role).Has(c)
}

// Require returns an AuthorizationError when the actor lacks c.
func Require(a Actor, c Capability, action string) error {
	if a.Can(c) {
		return nil
	}
	metrics.ActionsDeniedTotal.WithLabelValues(action).Inc()
	return apperrors.Authorization(action)
}

// RequireOrganizerOr allows the session organizer or any actor holding c.
func RequireOrganizerOr(a Actor, organizerID uuid.UUID, c Capability, action string) error {
	if a.ID != uuid.Nil && a.ID == organizerID {
		return nil
	}
	return Require(a, c, action)
}
