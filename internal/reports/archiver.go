package reports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/storage"
)

// ObjectStore uploads report documents.
type ObjectStore interface {
	ReportsBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Store records archived reports.
type Store interface {
	Create(ctx context.Context, rep *models.ArchivedReport) error
}

// JobQueue is the source of report archive jobs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Archiver processes report archive jobs: upload the document to S3, then record it.
type Archiver struct {
	store   Store
	objects ObjectStore
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiver creates a report archiver.
func NewArchiver(store Store, objects ObjectStore, q JobQueue, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, objects: objects, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one report archive job. The job id doubles as the report id so a retried
// job overwrites the same object and row.
func (a *Archiver) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeReportArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ReportArchivePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if len(payload.Document) == 0 {
		return fmt.Errorf("report archive job %s has no document", job.ID)
	}
	reportID, err := uuid.Parse(job.ID)
	if err != nil {
		reportID = uuid.New()
	}

	key := storage.ReportKey(payload.SessionID.String(), reportID.String())
	url, err := a.objects.Upload(ctx, a.objects.ReportsBucket(), key, ContentType, bytes.NewReader(payload.Document), int64(len(payload.Document)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	rep := &models.ArchivedReport{
		ID:        reportID,
		SessionID: payload.SessionID,
		S3Key:     key,
		URL:       url,
		CreatedBy: payload.RequestedBy,
	}
	if err := a.store.Create(ctx, rep); err != nil {
		a.logger.Error("record archived report failed", zap.Error(err), zap.String("report_id", reportID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	a.logger.Info("report archived", zap.String("session_id", payload.SessionID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("report archiver stopping")
			return
		default:
		}

		job, err := a.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Warn("dequeue error", zap.Error(err))
			a.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		a.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := a.Process(ctx, job); err != nil {
			a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := a.queue.Retry(ctx, job); reErr != nil {
				a.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			a.sleep(ctx)
		}
	}
}

func (a *Archiver) sleep(ctx context.Context) {
	t := time.NewTimer(a.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
