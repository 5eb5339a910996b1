// Package engagement derives session analytics from the reconciled snapshot.
package engagement

import (
	"math"
	"time"

	"github.com/aura-webinar/livesession/internal/models"
)

const (
	// ChatIncrement is added to a participant's score for each scored chat message.
	ChatIncrement = 5.0
	// MaxScore caps engagement scores.
	MaxScore = 100.0
)

// Input is everything Recompute reads. Marks are nil until the session went live / completed.
type Input struct {
	Session      models.Session
	Participants []models.Participant
	Questions    []models.Question
	StartMark    *time.Time
	EndMark      *time.Time
	Now          time.Time
}

// Recompute returns the analytics for in. It has no side effects.
func Recompute(in Input) models.AnalyticsSnapshot {
	return models.AnalyticsSnapshot{
		TotalQuestions:    len(in.Questions),
		AvgEngagement:     AverageEngagement(in.Participants),
		ParticipationRate: ParticipationRate(len(in.Participants), in.Session.AttendeeCapacity),
		DurationMinutes:   DurationMinutes(in.StartMark, in.EndMark, in.Now),
	}
}

// AverageEngagement is the arithmetic mean of participant scores, or 0 for none.
func AverageEngagement(participants []models.Participant) float64 {
	if len(participants) == 0 {
		return 0
	}
	var sum float64
	for _, p := range participants {
		sum += p.EngagementScore
	}
	return sum / float64(len(participants))
}

// ParticipationRate is the joined share of capacity in percent, clamped to [0,100]; 0 when capacity <= 0.
func ParticipationRate(joined, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return Clamp(100*float64(joined)/float64(capacity), 0, MaxScore)
}

// DurationMinutes rounds the elapsed time between the marks to whole minutes.
// With only a start mark the session is still running and now is used.
func DurationMinutes(start, end *time.Time, now time.Time) int {
	if start == nil {
		return 0
	}
	until := now
	if end != nil {
		until = *end
	}
	d := until.Sub(*start)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

// AddScore adds delta to score and caps the result at MaxScore.
func AddScore(score, delta float64) float64 {
	return Clamp(score+delta, 0, MaxScore)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InBounds reports whether a score lies within [0, MaxScore].
func InBounds(score float64) bool {
	return !math.IsNaN(score) && score >= 0 && score <= MaxScore
}
