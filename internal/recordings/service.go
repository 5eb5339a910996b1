package recordings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/storage"
)

// ErrNoActiveRecording is returned by Stop when the session has no recording in progress.
var ErrNoActiveRecording = errors.New("no active recording")

// Store is the recording row persistence used by StandaloneService.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) error
	FindActive(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error)
	Complete(ctx context.Context, id uuid.UUID, url string, durationMinutes int) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// ObjectStore signs URLs for recording objects.
type ObjectStore interface {
	GeneratePresignedUploadURL(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	RecordingsBucket() string
	PresignExpire() time.Duration
}

// Handle identifies a started standalone recording. The client capturing media
// uploads to UploadURL; StreamRef is the object key.
type Handle struct {
	RecordingID uuid.UUID `json:"recording_id"`
	StreamRef   string    `json:"stream_ref"`
	UploadURL   string    `json:"upload_url"`
}

// Result describes a stopped standalone recording.
type Result struct {
	URL             string `json:"url"`
	DurationMinutes int    `json:"duration_minutes"`
}

// StandaloneService records sessions outside the video transport: a recording row in
// Postgres plus an S3 object the capturing client uploads to.
type StandaloneService struct {
	store   Store
	objects ObjectStore
	now     func() time.Time
	logger  *zap.Logger
}

// NewStandaloneService creates the fallback recording backend.
func NewStandaloneService(store Store, objects ObjectStore, logger *zap.Logger) *StandaloneService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandaloneService{store: store, objects: objects, now: time.Now, logger: logger}
}

// Start creates the recording row and a pre-signed upload target.
func (s *StandaloneService) Start(ctx context.Context, sessionID uuid.UUID) (Handle, error) {
	id := uuid.New()
	key := storage.RecordingKey(sessionID.String(), id.String())
	uploadURL, err := s.objects.GeneratePresignedUploadURL(ctx, s.objects.RecordingsBucket(), key, storage.RecordingContentType, s.objects.PresignExpire())
	if err != nil {
		return Handle{}, fmt.Errorf("presign recording upload: %w", err)
	}
	rec := &models.Recording{ID: id, SessionID: sessionID, S3Key: key, Status: models.RecordingRowRecording}
	if err := s.store.Create(ctx, rec); err != nil {
		return Handle{}, fmt.Errorf("create recording: %w", err)
	}
	s.logger.Info("standalone recording started", zap.String("session_id", sessionID.String()), zap.String("recording_id", id.String()))
	return Handle{RecordingID: id, StreamRef: key, UploadURL: uploadURL}, nil
}

// Active returns the handle of the session's recording still in progress. The upload URL is
// not re-signed.
func (s *StandaloneService) Active(ctx context.Context, sessionID uuid.UUID) (Handle, bool, error) {
	rec, err := s.store.FindActive(ctx, sessionID)
	if err != nil {
		return Handle{}, false, fmt.Errorf("find active recording: %w", err)
	}
	if rec == nil {
		return Handle{}, false, nil
	}
	return Handle{RecordingID: rec.ID, StreamRef: rec.S3Key}, true, nil
}

// Stop completes the active recording and returns its download URL and duration.
func (s *StandaloneService) Stop(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	rec, err := s.store.FindActive(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("find active recording: %w", err)
	}
	if rec == nil {
		return Result{}, ErrNoActiveRecording
	}
	url, err := s.objects.GeneratePresignedDownloadURL(ctx, s.objects.RecordingsBucket(), rec.S3Key, s.objects.PresignExpire())
	if err != nil {
		_ = s.store.MarkFailed(ctx, rec.ID)
		return Result{}, fmt.Errorf("presign recording download: %w", err)
	}
	minutes := int(math.Round(s.now().Sub(rec.StartedAt).Minutes()))
	if minutes < 0 {
		minutes = 0
	}
	if err := s.store.Complete(ctx, rec.ID, url, minutes); err != nil {
		return Result{}, fmt.Errorf("complete recording: %w", err)
	}
	s.logger.Info("standalone recording stopped", zap.String("session_id", sessionID.String()),
		zap.String("recording_id", rec.ID.String()), zap.Int("duration_minutes", minutes))
	return Result{URL: url, DurationMinutes: minutes}, nil
}
