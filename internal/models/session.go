package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionStatusUpcoming  SessionStatus = "upcoming"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusCompleted SessionStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusUpcoming, SessionStatusLive, SessionStatusCompleted:
		return true
	}
	return false
}

// Rank orders statuses along the lifecycle; status may only move to a higher rank.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionStatusUpcoming:
		return 0
	case SessionStatusLive:
		return 1
	case SessionStatusCompleted:
		return 2
	}
	return -1
}

// Session is a scheduled collaborative session.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	OrganizerID      uuid.UUID     `json:"organizer_id"`
	OrganizerName    string        `json:"organizer_name,omitempty"`
	ScheduledStart   time.Time     `json:"scheduled_start"`
	ScheduledEnd     *time.Time    `json:"scheduled_end,omitempty"`
	Status           SessionStatus `json:"status"`
	AttendeeCapacity int           `json:"attendee_capacity"`
	EngagementScore  float64       `json:"engagement_score"`
	MeetingRef       string        `json:"meeting_ref,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Participant is a user currently joined to a session.
type Participant struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	AvatarRef       string    `json:"avatar_ref,omitempty"`
	EngagementScore float64   `json:"engagement_score"`
	Muted           bool      `json:"muted"`
	JoinedAt        time.Time `json:"joined_at"`
}

// ChatMessage is one message received from the video transport chat.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}
