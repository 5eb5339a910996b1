package livesession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
)

func newStartedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(uuid.New(), opts...)
	e.Start()
	t.Cleanup(e.Close)
	return e
}

func TestEngineAppliesInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var versions []uint64
	e := newStartedEngine(t, WithObserver(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}))
	ctx := context.Background()

	p := models.Participant{ID: uuid.New(), EngagementScore: 10}
	require.NoError(t, e.Submit(change(t, StreamParticipant, OpInsert, p)))
	require.NoError(t, e.Submit(change(t, StreamParticipant, OpDelete, p)))
	require.NoError(t, e.Submit(change(t, StreamParticipant, OpInsert, p)))
	require.NoError(t, e.Flush(ctx))

	snap := e.Snapshot()
	assert.Len(t, snap.Participants, 1)
	assert.Equal(t, uint64(3), snap.Version)

	mu.Lock()
	assert.Equal(t, []uint64{1, 2, 3}, versions)
	mu.Unlock()
}

func TestEngineDropsMalformedWithoutCorruption(t *testing.T) {
	e := newStartedEngine(t)
	ctx := context.Background()

	p := models.Participant{ID: uuid.New(), EngagementScore: 50}
	_, err := e.Apply(ctx, change(t, StreamParticipant, OpInsert, p))
	require.NoError(t, err)
	before := e.Snapshot()

	_, err = e.Apply(ctx, ChangeEvent{Stream: StreamParticipant, Op: OpInsert, Record: []byte(`{"id": 7}`)})
	assert.Error(t, err)

	after := e.Snapshot()
	assert.Equal(t, before.Participants, after.Participants)
	assert.Equal(t, before.Version, after.Version)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Applied)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestEngineRecomputesAfterMerge(t *testing.T) {
	e := newStartedEngine(t)
	ctx := context.Background()
	id := e.SessionID()

	_, err := e.Apply(ctx, change(t, StreamSession, OpInsert, session(id, models.SessionStatusLive, 10)))
	require.NoError(t, err)
	for _, score := range []float64{40, 60, 80} {
		_, err := e.Apply(ctx, change(t, StreamParticipant, OpInsert, models.Participant{ID: uuid.New(), EngagementScore: score}))
		require.NoError(t, err)
	}

	snap := e.Snapshot()
	assert.Equal(t, 60.0, snap.Analytics.AvgEngagement)
	assert.Equal(t, 30.0, snap.Analytics.ParticipationRate)
}

func TestEngineChatEngagementAndInsights(t *testing.T) {
	e := newStartedEngine(t)
	ctx := context.Background()
	p := models.Participant{ID: uuid.New(), EngagementScore: 40}
	_, err := e.Apply(ctx, change(t, StreamParticipant, OpInsert, p))
	require.NoError(t, err)

	require.NoError(t, e.AppendChat(models.ChatMessage{ID: "1", SenderID: p.ID.String(), Text: "hello"}))
	require.NoError(t, e.AddEngagement(p.ID, 5))
	require.NoError(t, e.AppendInsights(models.Insight{Type: models.InsightEngagement, Confidence: 0.8}))
	require.NoError(t, e.SetRecording(ctx, models.RecordingState{Status: models.RecordingRecording}))

	snap := e.Snapshot()
	assert.Len(t, snap.Chat, 1)
	assert.Equal(t, 45.0, snap.Participants[0].EngagementScore)
	assert.Len(t, snap.Insights, 1)
	assert.Equal(t, models.RecordingRecording, snap.Recording.Status)
}

func TestEngineDiscardsWorkAfterClose(t *testing.T) {
	e := NewEngine(uuid.New())
	e.Start()
	e.Close()

	err := e.Submit(change(t, StreamParticipant, OpInsert, models.Participant{ID: uuid.New()}))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(e.AddEngagement(uuid.New(), 5), ErrClosed))

	_, err = e.Apply(context.Background(), change(t, StreamParticipant, OpInsert, models.Participant{ID: uuid.New()}))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Empty(t, e.Snapshot().Participants)
	assert.True(t, e.Stats().Closed)
}

func TestEngineCloseWithoutStart(t *testing.T) {
	e := NewEngine(uuid.New())
	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an engine that never started")
	}
}

func TestEngineSnapshotRefreshesDuration(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock.Now()
	}
	e := newStartedEngine(t, WithClock(now))
	_, err := e.Apply(context.Background(), change(t, StreamSession, OpUpdate, session(e.SessionID(), models.SessionStatusLive, 5)))
	require.NoError(t, err)

	mu.Lock()
	clock.Advance(10 * time.Minute)
	mu.Unlock()
	assert.Equal(t, 10, e.Snapshot().Analytics.DurationMinutes)
}
