package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

// Repository handles archived report persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reports repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create records an archived report. Recording the same id twice keeps the first row.
func (r *Repository) Create(ctx context.Context, rep *models.ArchivedReport) error {
	const q = `INSERT INTO session_reports (id, session_id, s3_key, url, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	rows, err := r.pool.Query(ctx, q, rep.ID, rep.SessionID, rep.S3Key, rep.URL, rep.CreatedBy)
	if err != nil {
		return apperrors.TransientFetch("save report", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&rep.CreatedAt); err != nil {
			return apperrors.TransientFetch("save report", err)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.TransientFetch("save report", err)
	}
	return nil
}

// ListBySession returns the archived reports of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ArchivedReport, error) {
	const q = `SELECT id, session_id, s3_key, url, created_by, created_at FROM session_reports
		WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, apperrors.TransientFetch("list reports", err)
	}
	defer rows.Close()
	list := []models.ArchivedReport{}
	for rows.Next() {
		var rep models.ArchivedReport
		if err := rows.Scan(&rep.ID, &rep.SessionID, &rep.S3Key, &rep.URL, &rep.CreatedBy, &rep.CreatedAt); err != nil {
			return nil, apperrors.TransientFetch("list reports", err)
		}
		list = append(list, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.TransientFetch("list reports", err)
	}
	return list, nil
}
