package models

import (
	"time"

	"github.com/google/uuid"
)

// ArchivedReport is a session report uploaded to object storage.
type ArchivedReport struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	S3Key     string    `json:"s3_key"`
	URL       string    `json:"url"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
