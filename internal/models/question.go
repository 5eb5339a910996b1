package models

import (
	"time"

	"github.com/google/uuid"
)

// Sentiment is the tone classification attached to questions and chat.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	return s == SentimentPositive || s == SentimentNeutral || s == SentimentNegative
}

// Question is an audience question submitted during a session. Only Answered may change after creation.
type Question struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Text      string    `json:"text"`
	Sentiment Sentiment `json:"sentiment"`
	Answered  bool      `json:"answered"`
	CreatedAt time.Time `json:"created_at"`
}
