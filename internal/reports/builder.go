// Package reports renders the end-of-session report and archives it to object storage.
package reports

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

// ContentType is the media type of a rendered report.
const ContentType = "application/json"

// Document is the session report.
type Document struct {
	SessionID         uuid.UUID         `json:"sessionId"`
	Title             string            `json:"title"`
	Organizer         string            `json:"organizer"`
	Date              time.Time         `json:"date"`
	Duration          int               `json:"duration"`
	TotalParticipants int               `json:"totalParticipants"`
	TotalQuestions    int               `json:"totalQuestions"`
	AvgEngagement     float64           `json:"avgEngagement"`
	ParticipationRate float64           `json:"participationRate"`
	Questions         []models.Question `json:"questions"`
	Insights          []models.Insight  `json:"insights"`
}

// Report is a rendered document with its suggested filename.
type Report struct {
	Filename string
	Body     []byte
}

// Filename returns the suggested download name for a session's report.
func Filename(sessionID uuid.UUID) string {
	return fmt.Sprintf("session-report-%s.json", sessionID)
}

// NewDocument assembles the report of a completed session.
func NewDocument(snap livesession.Snapshot) (Document, error) {
	if snap.Session.Status != models.SessionStatusCompleted {
		return Document{}, apperrors.Validation("report is only available once the session has completed")
	}
	doc := Document{
		SessionID:         snap.Session.ID,
		Title:             snap.Session.Title,
		Organizer:         snap.Session.OrganizerName,
		Date:              snap.Session.ScheduledStart,
		Duration:          snap.Analytics.DurationMinutes,
		TotalParticipants: len(snap.Participants),
		TotalQuestions:    snap.Analytics.TotalQuestions,
		AvgEngagement:     snap.Analytics.AvgEngagement,
		ParticipationRate: snap.Analytics.ParticipationRate,
		Questions:         snap.Questions,
		Insights:          snap.Insights,
	}
	if doc.Questions == nil {
		doc.Questions = []models.Question{}
	}
	if doc.Insights == nil {
		doc.Insights = []models.Insight{}
	}
	return doc, nil
}

// Build renders the report of a completed session.
func Build(snap livesession.Snapshot) (Report, error) {
	doc, err := NewDocument(snap)
	if err != nil {
		return Report{}, err
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("marshal report: %w", err)
	}
	return Report{Filename: Filename(snap.Session.ID), Body: body}, nil
}
