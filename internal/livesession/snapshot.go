// Package livesession owns the authoritative in-memory view of one live session.
// A Reconciler merges inbound events into an immutable Snapshot; an Engine serializes
// those merges for a single session and publishes each new snapshot.
package livesession

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/models"
)

// Stream is one of the independent change streams feeding the reconciler.
type Stream string

const (
	StreamSession     Stream = "session"
	StreamQuestion    Stream = "question"
	StreamParticipant Stream = "participant"
)

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	return s == StreamSession || s == StreamQuestion || s == StreamParticipant
}

// Op is the store operation carried by a change event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is a store mutation delivered by a change stream.
type ChangeEvent struct {
	Stream Stream          `json:"stream"`
	Op     Op              `json:"op"`
	Record json.RawMessage `json:"record"`
}

// NewChange builds a change event carrying record encoded as JSON.
func NewChange(stream Stream, op Op, record any) (ChangeEvent, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal %s record: %w", stream, err)
	}
	return ChangeEvent{Stream: stream, Op: op, Record: raw}, nil
}

// Snapshot is the merged view of a session. Values are never mutated after publication;
// every merge produces a new Snapshot with freshly copied slices where they changed.
type Snapshot struct {
	Session      models.Session           `json:"session"`
	Participants []models.Participant     `json:"participants"`
	Questions    []models.Question        `json:"questions"`
	Chat         []models.ChatMessage     `json:"chat"`
	Insights     []models.Insight         `json:"insights"`
	Recording    models.RecordingState    `json:"recording"`
	StartMark    *time.Time               `json:"start_mark,omitempty"`
	EndMark      *time.Time               `json:"end_mark,omitempty"`
	Analytics    models.AnalyticsSnapshot `json:"analytics"`
	Version      uint64                   `json:"version"`
}

// NewSnapshot returns the empty snapshot for a session that has not been loaded yet.
func NewSnapshot(sessionID uuid.UUID) Snapshot {
	return Snapshot{
		Session:   models.Session{ID: sessionID, Status: models.SessionStatusUpcoming},
		Recording: models.RecordingState{Status: models.RecordingIdle},
	}
}

// Participant returns the participant with id.
func (s Snapshot) Participant(id uuid.UUID) (models.Participant, bool) {
	if i := s.participantIndex(id); i >= 0 {
		return s.Participants[i], true
	}
	return models.Participant{}, false
}

// Question returns the question with id.
func (s Snapshot) Question(id uuid.UUID) (models.Question, bool) {
	if i := s.questionIndex(id); i >= 0 {
		return s.Questions[i], true
	}
	return models.Question{}, false
}

// LatestQuestion returns the most recently created question.
func (s Snapshot) LatestQuestion() (models.Question, bool) {
	if len(s.Questions) == 0 {
		return models.Question{}, false
	}
	latest := s.Questions[0]
	for _, q := range s.Questions[1:] {
		if q.CreatedAt.After(latest.CreatedAt) {
			latest = q
		}
	}
	return latest, true
}

func (s Snapshot) participantIndex(id uuid.UUID) int {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

func (s Snapshot) questionIndex(id uuid.UUID) int {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return i
		}
	}
	return -1
}
