package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

const sessionColumns = `s.id, s.title, COALESCE(s.description,''), s.organizer_id, COALESCE(u.full_name,''),
	s.scheduled_start, s.scheduled_end, s.status, s.attendee_capacity, s.engagement_score,
	COALESCE(s.meeting_ref,''), s.started_at, s.ended_at, s.created_at, s.updated_at`

const sessionFrom = ` FROM sessions s LEFT JOIN users u ON u.id = s.organizer_id`

// Publisher announces committed changes to the session change streams.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, stream livesession.Stream, op livesession.Op, record any) error
}

// Repository handles session persistence.
type Repository struct {
	pool   *pgxpool.Pool
	feed   Publisher
	logger *zap.Logger
}

// NewRepository creates a session repository. feed may be nil.
func NewRepository(pool *pgxpool.Pool, feed Publisher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, feed: feed, logger: logger}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.OrganizerID, &s.OrganizerName,
		&s.ScheduledStart, &s.ScheduledEnd, &s.Status, &s.AttendeeCapacity, &s.EngagementScore,
		&s.MeetingRef, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("session")
	}
	if err != nil {
		return nil, apperrors.TransientFetch("load session", err)
	}
	return &s, nil
}

func (r *Repository) publish(ctx context.Context, s *models.Session, op livesession.Op) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, s.ID, livesession.StreamSession, op, s); err != nil {
		r.logger.Warn("session change not published", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
}

// GetByID returns a session with its organizer's name.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1`, id))
}

// List returns sessions ordered by scheduled start, optionally filtered by organizer.
func (r *Repository) List(ctx context.Context, organizerID *uuid.UUID) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + sessionFrom
	var args []any
	if organizerID != nil {
		q += ` WHERE s.organizer_id = $1`
		args = append(args, *organizerID)
	}
	q += ` ORDER BY s.scheduled_start DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperrors.TransientFetch("list sessions", err)
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientFetch("list sessions", err)
	}
	return list, nil
}

// Create inserts a new upcoming session.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (title, description, organizer_id, scheduled_start, scheduled_end, attendee_capacity, meeting_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, s.Title, s.Description, s.OrganizerID, s.ScheduledStart, s.ScheduledEnd, s.AttendeeCapacity, s.MeetingRef).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return apperrors.TransientFetch("create session", err)
	}
	return nil
}

// UpdateStatus moves a session from one status to another and stamps the matching marker.
// The write only happens if the stored status is still from; otherwise the transition lost a
// race and a validation error is returned.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, error) {
	const q = `WITH updated AS (
			UPDATE sessions SET status = $3,
				started_at = CASE WHEN $3 = 'live' THEN $4 ELSE started_at END,
				ended_at = CASE WHEN $3 = 'completed' THEN $4 ELSE ended_at END,
				updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING *
		)
		SELECT ` + sessionColumns + ` FROM updated s LEFT JOIN users u ON u.id = s.organizer_id`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, string(from), string(to), at))
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Validation("session is no longer %s", from)
	}
	if err != nil {
		return nil, err
	}
	r.publish(ctx, s, livesession.OpUpdate)
	return s, nil
}

// SetEngagementScore stores the session-level engagement score.
func (r *Repository) SetEngagementScore(ctx context.Context, id uuid.UUID, score float64) error {
	const q = `UPDATE sessions SET engagement_score = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.pool.Exec(ctx, q, score, id); err != nil {
		return apperrors.TransientFetch("update engagement score", err)
	}
	return nil
}
