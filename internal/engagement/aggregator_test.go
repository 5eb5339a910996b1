package engagement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/livesession/internal/models"
)

func participants(scores ...float64) []models.Participant {
	out := make([]models.Participant, 0, len(scores))
	for _, s := range scores {
		out = append(out, models.Participant{ID: uuid.New(), EngagementScore: s})
	}
	return out
}

func TestRecomputeScenario(t *testing.T) {
	got := Recompute(Input{
		Session:      models.Session{AttendeeCapacity: 10},
		Participants: participants(40, 60, 80),
		Questions:    []models.Question{{ID: uuid.New()}, {ID: uuid.New()}},
		Now:          time.Now(),
	})

	assert.Equal(t, 60.0, got.AvgEngagement)
	assert.Equal(t, 30.0, got.ParticipationRate)
	assert.Equal(t, 2, got.TotalQuestions)
	assert.Equal(t, 0, got.DurationMinutes)
}

func TestParticipationRate(t *testing.T) {
	tests := []struct {
		name     string
		joined   int
		capacity int
		want     float64
	}{
		{"zero capacity", 25, 0, 0},
		{"negative capacity", 3, -4, 0},
		{"over capacity clamps", 15, 10, 100},
		{"half", 5, 10, 50},
		{"empty", 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParticipationRate(tt.joined, tt.capacity))
		})
	}
}

func TestAverageEngagementEmpty(t *testing.T) {
	assert.Equal(t, 0.0, AverageEngagement(nil))
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	now := start.Add(90 * time.Minute)

	assert.Equal(t, 0, DurationMinutes(nil, nil, now))
	assert.Equal(t, 0, DurationMinutes(nil, &end, now))
	assert.Equal(t, 45, DurationMinutes(&start, &end, now))
	assert.Equal(t, 90, DurationMinutes(&start, nil, now))

	// clock skew never yields a negative duration
	before := start.Add(-time.Minute)
	assert.Equal(t, 0, DurationMinutes(&start, &before, now))
}

func TestAddScoreCaps(t *testing.T) {
	assert.Equal(t, 45.0, AddScore(40, ChatIncrement))
	assert.Equal(t, 100.0, AddScore(98, ChatIncrement))
}

func TestRecomputeIsDeterministic(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := Input{
		Session:      models.Session{AttendeeCapacity: 4},
		Participants: participants(10, 20),
		StartMark:    &start,
		Now:          start.Add(12 * time.Minute),
	}
	assert.Equal(t, Recompute(in), Recompute(in))
}
