package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesession/internal/models"
)

const recordingColumns = `id, session_id, COALESCE(s3_key,''), COALESCE(url,''), duration_minutes, status, started_at, stopped_at`

// Repository handles standalone recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.S3Key, &rec.URL, &rec.DurationMinutes, &rec.Status, &rec.StartedAt, &rec.StoppedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a recording row in status recording.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, session_id, s3_key, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = models.RecordingRowRecording
	}
	return r.pool.QueryRow(ctx, q, rec.ID, rec.SessionID, rec.S3Key, rec.Status).Scan(&rec.StartedAt)
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, id))
}

// ListBySession returns all recordings of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE session_id = $1 ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// FindActive returns the in-progress recording of a session, or nil if there is none.
func (r *Repository) FindActive(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE session_id = $1 AND status = $2 ORDER BY started_at DESC LIMIT 1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, sessionID, models.RecordingRowRecording))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Complete marks a recording completed with its URL and duration.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, url string, durationMinutes int) error {
	const q = `UPDATE recordings SET url = $1, duration_minutes = $2, status = $3, stopped_at = NOW() WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, url, durationMinutes, models.RecordingRowCompleted, id)
	return err
}

// MarkFailed marks a recording failed.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE recordings SET status = $1, stopped_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.RecordingRowFailed, id)
	return err
}
