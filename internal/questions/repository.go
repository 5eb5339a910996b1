package questions

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

const questionColumns = `id, session_id, author_id, text, sentiment, answered, created_at`

// Publisher announces committed changes to the session change streams.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, stream livesession.Stream, op livesession.Op, record any) error
}

// Repository handles question persistence.
type Repository struct {
	pool   *pgxpool.Pool
	feed   Publisher
	logger *zap.Logger
}

// NewRepository creates a questions repository. feed may be nil.
func NewRepository(pool *pgxpool.Pool, feed Publisher, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, feed: feed, logger: logger}
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.SessionID, &q.AuthorID, &q.Text, &q.Sentiment, &q.Answered, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("question")
	}
	if err != nil {
		return nil, apperrors.TransientFetch("load question", err)
	}
	return &q, nil
}

func (r *Repository) publish(ctx context.Context, q *models.Question, op livesession.Op) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, q.SessionID, livesession.StreamQuestion, op, q); err != nil {
		r.logger.Warn("question change not published", zap.String("session_id", q.SessionID.String()), zap.Error(err))
	}
}

// Create inserts a new question. A missing sentiment is stored as neutral.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	if !q.Sentiment.Valid() {
		q.Sentiment = models.SentimentNeutral
	}
	const query = `INSERT INTO session_questions (session_id, author_id, text, sentiment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, answered, created_at`
	err := r.pool.QueryRow(ctx, query, q.SessionID, q.AuthorID, q.Text, string(q.Sentiment)).
		Scan(&q.ID, &q.Answered, &q.CreatedAt)
	if err != nil {
		return apperrors.TransientFetch("create question", err)
	}
	r.publish(ctx, q, livesession.OpInsert)
	return nil
}

// ListBySession returns the questions of a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+questionColumns+` FROM session_questions WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, apperrors.TransientFetch("list questions", err)
	}
	defer rows.Close()
	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientFetch("list questions", err)
	}
	return list, nil
}

// SetAnswered marks a question answered.
func (r *Repository) SetAnswered(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	const query = `UPDATE session_questions SET answered = TRUE WHERE id = $1 RETURNING ` + questionColumns
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	r.publish(ctx, q, livesession.OpUpdate)
	return q, nil
}
