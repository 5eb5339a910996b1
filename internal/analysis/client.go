// Package analysis is the HTTP client for the text-analysis service that scores sentiment
// and produces session insights.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

const (
	pathInsights        = "/v1/insights"
	pathAnalyzeQuestion = "/v1/questions/analyze"
	pathSentiment       = "/v1/sentiment"

	serviceName     = "analysis"
	maxResponseBody = 1 << 20
)

// QuestionSummary is one recent question sent for session analysis.
type QuestionSummary struct {
	Question  string           `json:"question"`
	Sentiment models.Sentiment `json:"sentiment"`
}

// SessionContext is the session summary the insights endpoint analyzes.
type SessionContext struct {
	SessionID                uuid.UUID            `json:"session_id"`
	Title                    string               `json:"title"`
	Status                   models.SessionStatus `json:"status"`
	QuestionCount            int                  `json:"question_count"`
	ParticipantCount         int                  `json:"participant_count"`
	RecentQuestions          []QuestionSummary    `json:"recent_questions"`
	AvgParticipantEngagement float64              `json:"avg_participant_engagement"`
	RequestedBy              string               `json:"requested_by,omitempty"`
}

type textRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

type insightsResponse struct {
	Insights []models.Insight `json:"insights"`
}

type questionResponse struct {
	Sentiment models.SentimentResult `json:"sentiment"`
}

// Client calls the analysis service over HTTP/JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an analysis client. timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SessionInsights asks for insights about the session.
func (c *Client) SessionInsights(ctx context.Context, sc SessionContext) ([]models.Insight, error) {
	var out insightsResponse
	if err := c.post(ctx, pathInsights, sc, &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

// AnalyzeQuestion scores the sentiment of a question.
func (c *Client) AnalyzeQuestion(ctx context.Context, text, userID string) (models.SentimentResult, error) {
	var out questionResponse
	if err := c.post(ctx, pathAnalyzeQuestion, textRequest{Text: text, UserID: userID}, &out); err != nil {
		return models.SentimentResult{}, err
	}
	return validResult(out.Sentiment)
}

// AnalyzeSentiment scores the sentiment of a chat message.
func (c *Client) AnalyzeSentiment(ctx context.Context, text, userID string) (models.SentimentResult, error) {
	var out models.SentimentResult
	if err := c.post(ctx, pathSentiment, textRequest{Text: text, UserID: userID}, &out); err != nil {
		return models.SentimentResult{}, err
	}
	return validResult(out)
}

func validResult(r models.SentimentResult) (models.SentimentResult, error) {
	if !r.Sentiment.Valid() || r.Confidence < 0 || r.Confidence > 1 {
		return models.SentimentResult{}, apperrors.ExternalService(serviceName, fmt.Errorf("invalid sentiment result %+v", r))
	}
	return r, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return c.fail(path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return c.fail(path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(path string, err error) error {
	metrics.ExternalFailuresTotal.WithLabelValues(serviceName).Inc()
	c.logger.Warn("analysis request failed", zap.String("path", path), zap.Error(err))
	return apperrors.ExternalService(serviceName, err)
}
