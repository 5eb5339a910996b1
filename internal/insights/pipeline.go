// Package insights requests analysis-service insights for a session snapshot.
package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livesession/internal/analysis"
	"github.com/aura-webinar/livesession/internal/engagement"
	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
)

const (
	// ContentConfidenceThreshold is the confidence a question sentiment must exceed to become an insight.
	ContentConfidenceThreshold = 0.7
	recentQuestionLimit        = 5
)

// Analyzer is the analysis service surface the pipeline uses.
type Analyzer interface {
	SessionInsights(ctx context.Context, sc analysis.SessionContext) ([]models.Insight, error)
	AnalyzeQuestion(ctx context.Context, text, userID string) (models.SentimentResult, error)
}

// Fallback returns the insight emitted when analysis fails.
func Fallback(now time.Time) models.Insight {
	return models.Insight{
		Type:       models.InsightEngagement,
		Message:    "Session engagement tracking active",
		Confidence: 0.8,
		Timestamp:  now,
	}
}

// Pipeline fans out the insight requests for one session.
type Pipeline struct {
	analyzer Analyzer
	now      func() time.Time
	logger   *zap.Logger
}

// NewPipeline creates an insight pipeline. A nil analyzer always yields the fallback.
func NewPipeline(analyzer Analyzer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{analyzer: analyzer, now: time.Now, logger: logger}
}

// Request starts the insight requests for snap and returns a channel delivering the results
// in order: session insights first, then the question-sentiment insight. On any failure the
// channel carries only the fallback insight. The channel is closed when done; nothing is sent
// once ctx is cancelled.
func (p *Pipeline) Request(ctx context.Context, snap livesession.Snapshot, requestedBy string) <-chan models.Insight {
	out := make(chan models.Insight, recentQuestionLimit)
	go func() {
		defer close(out)
		results, err := p.collect(ctx, snap, requestedBy)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn("insight request failed, using fallback",
				zap.String("session_id", snap.Session.ID.String()), zap.Error(err))
			results = []models.Insight{Fallback(p.now())}
		}
		for _, in := range results {
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (p *Pipeline) collect(ctx context.Context, snap livesession.Snapshot, requestedBy string) ([]models.Insight, error) {
	if p.analyzer == nil {
		return nil, fmt.Errorf("analysis service not configured")
	}
	recent := recentQuestions(snap.Questions)

	var (
		sessionInsights []models.Insight
		questionInsight *models.Insight
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.analyzer.SessionInsights(gctx, sessionContext(snap, recent, requestedBy))
		if err != nil {
			return err
		}
		sessionInsights = res
		return nil
	})
	if len(recent) > 0 {
		latest := recent[0]
		g.Go(func() error {
			res, err := p.analyzer.AnalyzeQuestion(gctx, latest.Text, requestedBy)
			if err != nil {
				return err
			}
			if res.Confidence > ContentConfidenceThreshold {
				in := models.Insight{
					Type:       models.InsightContent,
					Message:    fmt.Sprintf("Recent question shows %s sentiment (%d%% confidence)", res.Sentiment, int(math.Round(res.Confidence*100))),
					Confidence: res.Confidence,
					Timestamp:  p.now(),
				}
				questionInsight = &in
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]models.Insight, 0, len(sessionInsights)+1)
	for _, in := range sessionInsights {
		if in.Timestamp.IsZero() {
			in.Timestamp = p.now()
		}
		results = append(results, in)
	}
	if questionInsight != nil {
		results = append(results, *questionInsight)
	}
	return results, nil
}

// recentQuestions returns up to five questions, newest first.
func recentQuestions(qs []models.Question) []models.Question {
	out := make([]models.Question, len(qs))
	copy(out, qs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > recentQuestionLimit {
		out = out[:recentQuestionLimit]
	}
	return out
}

func sessionContext(snap livesession.Snapshot, recent []models.Question, requestedBy string) analysis.SessionContext {
	summaries := make([]analysis.QuestionSummary, 0, len(recent))
	for _, q := range recent {
		summaries = append(summaries, analysis.QuestionSummary{Question: q.Text, Sentiment: q.Sentiment})
	}
	return analysis.SessionContext{
		SessionID:                snap.Session.ID,
		Title:                    snap.Session.Title,
		Status:                   snap.Session.Status,
		QuestionCount:            len(snap.Questions),
		ParticipantCount:         len(snap.Participants),
		RecentQuestions:          summaries,
		AvgParticipantEngagement: engagement.AverageEngagement(snap.Participants),
		RequestedBy:              requestedBy,
	}
}
