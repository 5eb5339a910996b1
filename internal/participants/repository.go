// Package participants persists who is joined to a session and their engagement.
package participants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

const participantColumns = `id, display_name, COALESCE(avatar_ref,''), engagement_score, muted, joined_at`

// Publisher announces committed changes to the session change streams.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, stream livesession.Stream, op livesession.Op, record any) error
}

// Repository handles participant persistence.
type Repository struct {
	pool   *pgxpool.Pool
	feed   Publisher
	logger *zap.Logger
}

// NewRepository creates a participant repository. feed may be nil.
func NewRepository(pool *pgxpool.Pool, feed Publisher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, feed: feed, logger: logger}
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.ID, &p.DisplayName, &p.AvatarRef, &p.EngagementScore, &p.Muted, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("participant")
	}
	if err != nil {
		return nil, apperrors.TransientFetch("load participant", err)
	}
	return &p, nil
}

func (r *Repository) publish(ctx context.Context, sessionID uuid.UUID, op livesession.Op, p any) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, sessionID, livesession.StreamParticipant, op, p); err != nil {
		r.logger.Warn("participant change not published", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

// ListBySession returns the participants of a session in join order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM session_participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, apperrors.TransientFetch("list participants", err)
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientFetch("list participants", err)
	}
	return list, nil
}

// Upsert records a participant joining. A rejoin refreshes the display fields and keeps the
// score and original join time.
func (r *Repository) Upsert(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Participant, error) {
	const q = `INSERT INTO session_participants (id, session_id, display_name, avatar_ref)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (session_id, id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_ref = EXCLUDED.avatar_ref
		RETURNING ` + participantColumns
	saved, err := scanParticipant(r.pool.QueryRow(ctx, q, p.ID, sessionID, p.DisplayName, p.AvatarRef))
	if err != nil {
		return nil, err
	}
	r.publish(ctx, sessionID, livesession.OpInsert, saved)
	return saved, nil
}

// Delete removes a participant. Deleting an unknown participant is not an error.
func (r *Repository) Delete(ctx context.Context, sessionID, participantID uuid.UUID) error {
	const q = `DELETE FROM session_participants WHERE session_id = $1 AND id = $2`
	if _, err := r.pool.Exec(ctx, q, sessionID, participantID); err != nil {
		return apperrors.TransientFetch("delete participant", err)
	}
	r.publish(ctx, sessionID, livesession.OpDelete, models.Participant{ID: participantID})
	return nil
}

// SetMuted updates a participant's muted flag.
func (r *Repository) SetMuted(ctx context.Context, sessionID, participantID uuid.UUID, muted bool) (*models.Participant, error) {
	const q = `UPDATE session_participants SET muted = $3 WHERE session_id = $1 AND id = $2 RETURNING ` + participantColumns
	p, err := scanParticipant(r.pool.QueryRow(ctx, q, sessionID, participantID, muted))
	if err != nil {
		return nil, err
	}
	r.publish(ctx, sessionID, livesession.OpUpdate, p)
	return p, nil
}

// AddEngagement increments a participant's engagement score, capped at 100, and returns the
// updated participant.
func (r *Repository) AddEngagement(ctx context.Context, sessionID, participantID uuid.UUID, delta float64) (*models.Participant, error) {
	const q = `UPDATE session_participants SET engagement_score = LEAST(100, GREATEST(0, engagement_score + $3))
		WHERE session_id = $1 AND id = $2 RETURNING ` + participantColumns
	p, err := scanParticipant(r.pool.QueryRow(ctx, q, sessionID, participantID, delta))
	if err != nil {
		return nil, err
	}
	r.publish(ctx, sessionID, livesession.OpUpdate, p)
	return p, nil
}
