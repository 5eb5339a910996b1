package models

import "time"

// AnalyticsSnapshot is derived from the session snapshot and never persisted.
type AnalyticsSnapshot struct {
	TotalQuestions    int     `json:"total_questions"`
	AvgEngagement     float64 `json:"avg_engagement"`
	ParticipationRate float64 `json:"participation_rate"`
	DurationMinutes   int     `json:"duration_minutes"`
}

// InsightType classifies an insight.
type InsightType string

const (
	InsightEngagement    InsightType = "engagement"
	InsightParticipation InsightType = "participation"
	InsightContent       InsightType = "content"
	InsightOther         InsightType = "other"
)

// Insight is an observation produced by the analysis service.
type Insight struct {
	Type       InsightType `json:"type"`
	Message    string      `json:"message"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SentimentResult is the analysis service verdict for a piece of text.
type SentimentResult struct {
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
}
