package recordings

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// errNoBackend is returned when neither the transport control nor a standalone service can record.
var errNoBackend = errors.New("no recording backend available")

// TransportControl is the recording surface of the embedded video transport.
type TransportControl interface {
	// RecordingAvailable reports whether the transport can record right now.
	RecordingAvailable() bool
	StartRecording(ctx context.Context) error
	// StopRecording stops the transport recording; the returned url may be empty.
	StopRecording(ctx context.Context) (string, error)
}

// Standalone is the fallback recording backend.
type Standalone interface {
	Start(ctx context.Context, sessionID uuid.UUID) (Handle, error)
	Stop(ctx context.Context, sessionID uuid.UUID) (Result, error)
	// Active reports the recording of sessionID still in progress, if any.
	Active(ctx context.Context, sessionID uuid.UUID) (Handle, bool, error)
}

// ChangeFunc receives every state transition of a coordinator.
type ChangeFunc func(ctx context.Context, state models.RecordingState) error

// Coordinator drives one session's recording through idle → recording → stopped.
// Stop always goes to the backend that handled Start.
type Coordinator struct {
	mu         sync.Mutex
	sessionID  uuid.UUID
	transport  TransportControl
	standalone Standalone
	onChange   ChangeFunc
	state      models.RecordingState
	logger     *zap.Logger
}

// NewCoordinator creates a coordinator in state idle. transport and standalone may be nil.
func NewCoordinator(sessionID uuid.UUID, transport TransportControl, standalone Standalone, onChange ChangeFunc, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sessionID:  sessionID,
		transport:  transport,
		standalone: standalone,
		onChange:   onChange,
		state:      models.RecordingState{Status: models.RecordingIdle},
		logger:     logger.With(zap.String("session_id", sessionID.String())),
	}
}

// State returns the current recording state.
func (c *Coordinator) State() models.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume adopts a recording started before this coordinator existed, so that Stop reaches
// the backend holding it. Only an idle coordinator resumes, and only into a recording state
// whose backend it has.
func (c *Coordinator) Resume(ctx context.Context, state models.RecordingState) models.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != models.RecordingIdle || state.Status != models.RecordingRecording {
		return c.state
	}
	switch {
	case state.Backend == models.BackendTransport && c.transport != nil:
	case state.Backend == models.BackendStandalone && c.standalone != nil:
	default:
		c.logger.Warn("recording not resumed, backend unavailable", zap.String("backend", string(state.Backend)))
		return c.state
	}
	c.commit(ctx, state)
	c.logger.Info("recording resumed", zap.String("backend", string(state.Backend)))
	return c.state
}

// Start begins recording on the transport if it is available, else on the standalone service.
// Starting while recording or after a stop returns the current state unchanged.
func (c *Coordinator) Start(ctx context.Context) (models.RecordingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != models.RecordingIdle {
		return c.state, nil
	}

	next := models.RecordingState{Status: models.RecordingRecording}
	switch {
	case c.transport != nil && c.transport.RecordingAvailable():
		if err := c.transport.StartRecording(ctx); err != nil {
			return c.state, c.fail("start", models.BackendTransport, err)
		}
		next.Backend = models.BackendTransport
	case c.standalone != nil:
		h, err := c.standalone.Start(ctx, c.sessionID)
		if err != nil {
			return c.state, c.fail("start", models.BackendStandalone, err)
		}
		next.Backend = models.BackendStandalone
		next.StreamRef = h.StreamRef
	default:
		return c.state, c.fail("start", models.BackendNone, errNoBackend)
	}

	c.commit(ctx, next)
	c.logger.Info("recording started", zap.String("backend", string(next.Backend)))
	return c.state, nil
}

// Stop ends the recording on the backend chosen at Start. Stopping while idle or
// already stopped returns the current state unchanged.
func (c *Coordinator) Stop(ctx context.Context) (models.RecordingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != models.RecordingRecording {
		return c.state, nil
	}

	next := c.state
	next.Status = models.RecordingStopped
	switch c.state.Backend {
	case models.BackendTransport:
		url, err := c.transport.StopRecording(ctx)
		if err != nil {
			return c.state, c.fail("stop", models.BackendTransport, err)
		}
		next.URL = url
	case models.BackendStandalone:
		res, err := c.standalone.Stop(ctx, c.sessionID)
		if err != nil {
			return c.state, c.fail("stop", models.BackendStandalone, err)
		}
		minutes := res.DurationMinutes
		next.URL = res.URL
		next.DurationMinutes = &minutes
	}

	c.commit(ctx, next)
	c.logger.Info("recording stopped", zap.String("backend", string(next.Backend)), zap.String("url", next.URL))
	return c.state, nil
}

func (c *Coordinator) commit(ctx context.Context, next models.RecordingState) {
	c.state = next
	if c.onChange == nil {
		return
	}
	if err := c.onChange(ctx, next); err != nil {
		c.logger.Warn("recording state not mirrored", zap.Error(err))
	}
}

func (c *Coordinator) fail(op string, backend models.RecordingBackend, err error) error {
	service := "recording"
	if backend != models.BackendNone {
		service = "recording_" + string(backend)
	}
	metrics.ExternalFailuresTotal.WithLabelValues(service).Inc()
	c.logger.Error("recording "+op+" failed", zap.String("backend", string(backend)), zap.Error(err))
	return apperrors.ExternalService(service, err)
}
