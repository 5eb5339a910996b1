package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus is the in-session recording state.
type RecordingStatus string

const (
	RecordingIdle      RecordingStatus = "idle"
	RecordingRecording RecordingStatus = "recording"
	RecordingStopped   RecordingStatus = "stopped"
)

// RecordingBackend names which backend owns an active recording.
type RecordingBackend string

const (
	BackendNone       RecordingBackend = ""
	BackendTransport  RecordingBackend = "transport"
	BackendStandalone RecordingBackend = "standalone"
)

// RecordingState is the coordinator's view of a session recording.
type RecordingState struct {
	Status          RecordingStatus  `json:"status"`
	Backend         RecordingBackend `json:"backend,omitempty"`
	StreamRef       string           `json:"stream_ref,omitempty"`
	URL             string           `json:"url,omitempty"`
	DurationMinutes *int             `json:"duration_minutes,omitempty"`
}

// Persisted recording row statuses (standalone backend).
const (
	RecordingRowRecording = "recording"
	RecordingRowCompleted = "completed"
	RecordingRowFailed    = "failed"
)

// Recording is a standalone-backend recording row.
type Recording struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	S3Key           string     `json:"s3_key,omitempty"`
	URL             string     `json:"url,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
}
