package livesession

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/engagement"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

// Reconciler merges events into snapshots. Every method is a pure reducer: it either returns
// a new snapshot with the whole event applied, or the unchanged input and a validation error.
type Reconciler struct {
	now func() time.Time
}

// NewReconciler creates a reconciler; now defaults to time.Now.
func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{now: now}
}

// Now returns the reconciler's clock reading.
func (r *Reconciler) Now() time.Time { return r.now() }

// Apply merges one change event. Unknown streams, unknown ops and malformed records are rejected.
func (r *Reconciler) Apply(s Snapshot, ev ChangeEvent) (Snapshot, error) {
	switch ev.Stream {
	case StreamSession:
		return r.applySession(s, ev)
	case StreamParticipant:
		return r.applyParticipant(s, ev)
	case StreamQuestion:
		return r.applyQuestion(s, ev)
	}
	return s, apperrors.Validation("unknown stream %q", ev.Stream)
}

// Recompute refreshes the derived analytics of s.
func (r *Reconciler) Recompute(s Snapshot) Snapshot {
	s.Analytics = engagement.Recompute(engagement.Input{
		Session:      s.Session,
		Participants: s.Participants,
		Questions:    s.Questions,
		StartMark:    s.StartMark,
		EndMark:      s.EndMark,
		Now:          r.now(),
	})
	return s
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return apperrors.Validation("missing record")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Validation("malformed record: %v", err)
	}
	return nil
}

func (r *Reconciler) applySession(s Snapshot, ev ChangeEvent) (Snapshot, error) {
	if ev.Op != OpUpdate && ev.Op != OpInsert {
		return s, apperrors.Validation("unsupported session op %q", ev.Op)
	}
	var rec models.Session
	if err := decode(ev.Record, &rec); err != nil {
		return s, err
	}
	if rec.ID == uuid.Nil {
		return s, apperrors.Validation("session record without id")
	}
	if s.Session.ID != uuid.Nil && rec.ID != s.Session.ID {
		return s, apperrors.Validation("record for session %s", rec.ID)
	}
	if !rec.Status.Valid() {
		return s, apperrors.Validation("unknown session status %q", rec.Status)
	}
	if !engagement.InBounds(rec.EngagementScore) {
		return s, apperrors.Validation("session engagement score %v out of bounds", rec.EngagementScore)
	}
	if rec.Status.Rank() < s.Session.Status.Rank() {
		return s, apperrors.Validation("session status cannot move from %s to %s", s.Session.Status, rec.Status)
	}

	now := r.now()
	s.Session = rec
	if rec.Status.Rank() >= models.SessionStatusLive.Rank() && s.StartMark == nil {
		s.StartMark = firstTime(rec.StartedAt, scheduledIfCompleted(rec, &rec.ScheduledStart), &now)
	}
	if rec.Status == models.SessionStatusCompleted && s.EndMark == nil {
		s.EndMark = firstTime(rec.EndedAt, scheduledIfCompleted(rec, rec.ScheduledEnd), &now)
	}
	return s, nil
}

// scheduledIfCompleted falls back to the scheduled time for sessions first seen already completed.
func scheduledIfCompleted(rec models.Session, t *time.Time) *time.Time {
	if rec.Status != models.SessionStatusCompleted || t == nil || t.IsZero() {
		return nil
	}
	return t
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			v := *t
			return &v
		}
	}
	return nil
}

func (r *Reconciler) applyParticipant(s Snapshot, ev ChangeEvent) (Snapshot, error) {
	var rec models.Participant
	if err := decode(ev.Record, &rec); err != nil {
		return s, err
	}
	if rec.ID == uuid.Nil {
		return s, apperrors.Validation("participant record without id")
	}

	switch ev.Op {
	case OpInsert, OpUpdate:
		if !engagement.InBounds(rec.EngagementScore) {
			return s, apperrors.Validation("participant engagement score %v out of bounds", rec.EngagementScore)
		}
		if rec.JoinedAt.IsZero() {
			rec.JoinedAt = r.now()
		}
		s.Participants = upsertParticipant(s.Participants, rec)
		return s, nil
	case OpDelete:
		s.Participants = removeParticipant(s.Participants, rec.ID)
		return s, nil
	}
	return s, apperrors.Validation("unsupported participant op %q", ev.Op)
}

func upsertParticipant(list []models.Participant, p models.Participant) []models.Participant {
	out := make([]models.Participant, len(list), len(list)+1)
	copy(out, list)
	for i := range out {
		if out[i].ID == p.ID {
			p.JoinedAt = out[i].JoinedAt
			out[i] = p
			return out
		}
	}
	return append(out, p)
}

func removeParticipant(list []models.Participant, id uuid.UUID) []models.Participant {
	out := make([]models.Participant, 0, len(list))
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func (r *Reconciler) applyQuestion(s Snapshot, ev ChangeEvent) (Snapshot, error) {
	var rec models.Question
	if err := decode(ev.Record, &rec); err != nil {
		return s, err
	}
	if rec.ID == uuid.Nil {
		return s, apperrors.Validation("question record without id")
	}

	switch ev.Op {
	case OpInsert:
		if s.questionIndex(rec.ID) >= 0 {
			return s, nil
		}
		if rec.Sentiment == "" {
			rec.Sentiment = models.SentimentNeutral
		}
		if !rec.Sentiment.Valid() {
			return s, apperrors.Validation("unknown sentiment %q", rec.Sentiment)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = r.now()
		}
		out := make([]models.Question, len(s.Questions), len(s.Questions)+1)
		copy(out, s.Questions)
		s.Questions = append(out, rec)
		return s, nil
	case OpUpdate:
		i := s.questionIndex(rec.ID)
		if i < 0 {
			return s, apperrors.Validation("update for unknown question %s", rec.ID)
		}
		out := make([]models.Question, len(s.Questions))
		copy(out, s.Questions)
		out[i].Answered = rec.Answered
		s.Questions = out
		return s, nil
	case OpDelete:
		out := make([]models.Question, 0, len(s.Questions))
		for _, q := range s.Questions {
			if q.ID != rec.ID {
				out = append(out, q)
			}
		}
		s.Questions = out
		return s, nil
	}
	return s, apperrors.Validation("unsupported question op %q", ev.Op)
}

// AppendChat adds a chat message. Messages are append-only; a repeated id is ignored.
func (r *Reconciler) AppendChat(s Snapshot, msg models.ChatMessage) (Snapshot, error) {
	if msg.ID == "" || msg.SenderID == "" {
		return s, apperrors.Validation("chat message without id or sender")
	}
	for _, m := range s.Chat {
		if m.ID == msg.ID {
			return s, nil
		}
	}
	out := make([]models.ChatMessage, len(s.Chat), len(s.Chat)+1)
	copy(out, s.Chat)
	s.Chat = append(out, msg)
	return s, nil
}

// AddEngagement raises a participant's score by delta, capped at engagement.MaxScore.
func (r *Reconciler) AddEngagement(s Snapshot, participantID uuid.UUID, delta float64) (Snapshot, error) {
	i := s.participantIndex(participantID)
	if i < 0 {
		return s, apperrors.Validation("participant %s is not in the session", participantID)
	}
	out := make([]models.Participant, len(s.Participants))
	copy(out, s.Participants)
	out[i].EngagementScore = engagement.AddScore(out[i].EngagementScore, delta)
	s.Participants = out
	return s, nil
}

// AppendInsights appends insights in the order given, without deduplication.
func (r *Reconciler) AppendInsights(s Snapshot, insights []models.Insight) (Snapshot, error) {
	if len(insights) == 0 {
		return s, nil
	}
	out := make([]models.Insight, len(s.Insights), len(s.Insights)+len(insights))
	copy(out, s.Insights)
	for _, in := range insights {
		in.Confidence = engagement.Clamp(in.Confidence, 0, 1)
		switch in.Type {
		case models.InsightEngagement, models.InsightParticipation, models.InsightContent, models.InsightOther:
		default:
			in.Type = models.InsightOther
		}
		if in.Timestamp.IsZero() {
			in.Timestamp = r.now()
		}
		out = append(out, in)
	}
	s.Insights = out
	return s, nil
}

// SetRecording mirrors the recording coordinator state into the snapshot.
func (r *Reconciler) SetRecording(s Snapshot, state models.RecordingState) (Snapshot, error) {
	s.Recording = state
	return s, nil
}
