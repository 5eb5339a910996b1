package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
)

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeSentiment(ctx context.Context, text, userID string) (models.SentimentResult, error) {
	args := m.Called(ctx, text, userID)
	return args.Get(0).(models.SentimentResult), args.Error(1)
}

type MockEngagementStore struct {
	mock.Mock
}

func (m *MockEngagementStore) AddEngagement(ctx context.Context, sessionID, participantID uuid.UUID, delta float64) (*models.Participant, error) {
	args := m.Called(ctx, sessionID, participantID, delta)
	if p, ok := args.Get(0).(*models.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func str(s string) *string { return &s }

// engineWithParticipant starts an engine holding one participant with the given score.
func engineWithParticipant(t *testing.T, score float64) (*livesession.Engine, uuid.UUID) {
	t.Helper()
	e := livesession.NewEngine(uuid.New())
	e.Start()
	t.Cleanup(e.Close)
	id := uuid.New()
	ev, err := livesession.NewChange(livesession.StreamParticipant, livesession.OpInsert, models.Participant{ID: id, EngagementScore: score})
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), ev)
	require.NoError(t, err)
	return e, id
}

func newProcessor(e *livesession.Engine, a SentimentAnalyzer, s EngagementStore) (*Processor, chan struct{}) {
	p := NewProcessor(e.SessionID(), e, a, s, nil)
	done := make(chan struct{}, 4)
	p.scored = func() { done <- struct{}{} }
	return p, done
}

func wait(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sentiment scoring did not finish")
	}
}

func TestNormalize(t *testing.T) {
	p := NewProcessor(uuid.New(), nil, nil, nil, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	_, ok := p.Normalize(Inbound{Message: str("hi")})
	assert.False(t, ok)
	_, ok = p.Normalize(Inbound{Sender: &Sender{ID: "u1"}})
	assert.False(t, ok)

	msg, ok := p.Normalize(Inbound{Sender: &Sender{ID: "u1", Name: "Ana"}, Message: str("")})
	require.True(t, ok)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, fixed, msg.CreatedAt)

	msg, ok = p.Normalize(Inbound{ID: "m9", Sender: &Sender{ID: "u1"}, Message: str("hi"), Timestamp: 1767322800000})
	require.True(t, ok)
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, time.UnixMilli(1767322800000).UTC(), msg.CreatedAt)
}

func TestIngest_ScoredMessageAddsEngagement(t *testing.T) {
	e, participantID := engineWithParticipant(t, 40)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, "great talk", participantID.String()).
		Return(models.SentimentResult{Sentiment: models.SentimentPositive, Confidence: 0.9}, nil)
	p, done := newProcessor(e, a, nil)

	_, ok := p.Ingest(Inbound{Sender: &Sender{ID: participantID.String(), Name: "Ana"}, Message: str("great talk")})
	require.True(t, ok)
	wait(t, done)
	require.NoError(t, e.Flush(context.Background()))

	snap := e.Snapshot()
	assert.Len(t, snap.Chat, 1)
	assert.Equal(t, 45.0, snap.Participants[0].EngagementScore)
}

func TestIngest_EngagementCapsAt100(t *testing.T) {
	e, participantID := engineWithParticipant(t, 98)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything).
		Return(models.SentimentResult{Sentiment: models.SentimentNeutral, Confidence: 0.5}, nil)
	p, done := newProcessor(e, a, nil)

	p.Ingest(Inbound{Sender: &Sender{ID: participantID.String()}, Message: str("ok")})
	wait(t, done)
	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, 100.0, e.Snapshot().Participants[0].EngagementScore)
}

func TestIngest_SentimentFailureKeepsMessageOnly(t *testing.T) {
	e, participantID := engineWithParticipant(t, 40)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything).
		Return(models.SentimentResult{}, errors.New("timeout")).Once()
	p, done := newProcessor(e, a, nil)

	p.Ingest(Inbound{Sender: &Sender{ID: participantID.String()}, Message: str("hello")})
	wait(t, done)
	require.NoError(t, e.Flush(context.Background()))

	snap := e.Snapshot()
	assert.Len(t, snap.Chat, 1)
	assert.Equal(t, 40.0, snap.Participants[0].EngagementScore)
	a.AssertNumberOfCalls(t, "AnalyzeSentiment", 1)
}

func TestIngest_PersistsIncrementWhenStoreConfigured(t *testing.T) {
	e, participantID := engineWithParticipant(t, 40)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything).
		Return(models.SentimentResult{Sentiment: models.SentimentPositive, Confidence: 0.9}, nil)
	store := new(MockEngagementStore)
	store.On("AddEngagement", mock.Anything, e.SessionID(), participantID, float64(EngagementIncrement)).
		Return(&models.Participant{ID: participantID, EngagementScore: 45}, nil)
	p, done := newProcessor(e, a, store)

	p.Ingest(Inbound{Sender: &Sender{ID: participantID.String()}, Message: str("hi")})
	wait(t, done)
	store.AssertExpectations(t)

	// No change feed is attached: the stored score must still reach the snapshot.
	require.NoError(t, e.Flush(context.Background()))
	snap := e.Snapshot()
	assert.Equal(t, 45.0, snap.Participants[0].EngagementScore)
	assert.Equal(t, 45.0, snap.Analytics.AvgEngagement)
}

func TestIngest_StoreFailureAppliesLocally(t *testing.T) {
	e, participantID := engineWithParticipant(t, 40)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything).
		Return(models.SentimentResult{Sentiment: models.SentimentPositive, Confidence: 0.9}, nil)
	store := new(MockEngagementStore)
	store.On("AddEngagement", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))
	p, done := newProcessor(e, a, store)

	p.Ingest(Inbound{Sender: &Sender{ID: participantID.String()}, Message: str("hi")})
	wait(t, done)
	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, 45.0, e.Snapshot().Participants[0].EngagementScore)
}

func TestIngest_IgnoresIncompleteEvents(t *testing.T) {
	e, _ := engineWithParticipant(t, 40)
	a := new(MockAnalyzer)
	p, _ := newProcessor(e, a, nil)

	_, ok := p.Ingest(Inbound{Message: str("anonymous")})
	assert.False(t, ok)
	require.NoError(t, e.Flush(context.Background()))
	assert.Empty(t, e.Snapshot().Chat)
	a.AssertNotCalled(t, "AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_CompletionAfterTeardownIsDiscarded(t *testing.T) {
	e, participantID := engineWithParticipant(t, 40)
	release := make(chan time.Time)
	a := new(MockAnalyzer)
	a.On("AnalyzeSentiment", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(release).
		Return(models.SentimentResult{Sentiment: models.SentimentPositive, Confidence: 0.9}, nil)
	store := new(MockEngagementStore)
	p, done := newProcessor(e, a, store)

	p.Ingest(Inbound{Sender: &Sender{ID: participantID.String()}, Message: str("hi")})
	e.Close()
	close(release)
	wait(t, done)
	store.AssertNotCalled(t, "AddEngagement", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
