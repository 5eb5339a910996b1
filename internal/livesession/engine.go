package livesession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// ErrClosed is returned for work submitted after the engine was torn down.
var ErrClosed = errors.New("livesession: engine closed")

const defaultInboxSize = 256

// Observer receives every published snapshot. It runs on the engine goroutine and must not block.
type Observer func(Snapshot)

// Stats are engine counters exposed to operators.
type Stats struct {
	SessionID uuid.UUID `json:"session_id"`
	Version   uint64    `json:"version"`
	Applied   uint64    `json:"applied"`
	Dropped   uint64    `json:"dropped"`
	OpenedAt  time.Time `json:"opened_at"`
	Closed    bool      `json:"closed"`
}

type envelope struct {
	label  string
	apply  func(Snapshot) (Snapshot, error)
	result chan error
}

// Engine is the single actor owning one session's snapshot. Work is processed to completion
// in arrival order; no merge ever waits on I/O.
type Engine struct {
	sessionID  uuid.UUID
	reconciler *Reconciler
	logger     *zap.Logger
	observer   Observer

	inbox   chan envelope
	current atomic.Pointer[Snapshot]
	applied atomic.Uint64
	dropped atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	openedAt  time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the reconciler clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.reconciler = NewReconciler(now) }
}

// WithObserver registers the snapshot observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates an engine for sessionID. Call Start to begin processing.
func NewEngine(sessionID uuid.UUID, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sessionID:  sessionID,
		reconciler: NewReconciler(nil),
		logger:     zap.NewNop(),
		inbox:      make(chan envelope, defaultInboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("session_id", sessionID.String()))
	e.openedAt = e.reconciler.Now()
	initial := e.reconciler.Recompute(NewSnapshot(sessionID))
	e.current.Store(&initial)
	return e
}

// SessionID returns the session this engine owns.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// Start launches the processing goroutine. It is safe to call more than once.
func (e *Engine) Start() {
	e.startOnce.Do(func() { go e.run() })
}

// Close tears the engine down. Pending and later work is discarded.
func (e *Engine) Close() {
	e.cancel()
	e.startOnce.Do(func() { close(e.done) })
	<-e.done
}

// Done is closed once the engine stopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Context is cancelled when the engine is closed; in-flight work tied to the session should use it.
func (e *Engine) Context() context.Context { return e.ctx }

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case env := <-e.inbox:
			if e.ctx.Err() != nil {
				return
			}
			e.process(env)
		}
	}
}

func (e *Engine) process(env envelope) {
	if env.apply == nil {
		reply(env, nil)
		return
	}
	cur := *e.current.Load()
	next, err := env.apply(cur)
	if err != nil {
		e.dropped.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues(env.label).Inc()
		e.logger.Warn("event dropped", zap.String("kind", env.label), zap.Error(err))
		reply(env, err)
		return
	}
	next = e.reconciler.Recompute(next)
	next.Version = cur.Version + 1
	e.current.Store(&next)
	e.applied.Add(1)
	metrics.EventsAppliedTotal.WithLabelValues(env.label).Inc()
	if e.observer != nil {
		e.observer(next)
	}
	reply(env, nil)
}

func reply(env envelope, err error) {
	if env.result != nil {
		env.result <- err
	}
}

// Snapshot returns the current snapshot with duration analytics refreshed to now.
func (e *Engine) Snapshot() Snapshot {
	return e.reconciler.Recompute(*e.current.Load())
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		SessionID: e.sessionID,
		Version:   e.current.Load().Version,
		Applied:   e.applied.Load(),
		Dropped:   e.dropped.Load(),
		OpenedAt:  e.openedAt,
		Closed:    e.ctx.Err() != nil,
	}
}

func (e *Engine) enqueue(env envelope) error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case e.inbox <- env:
		return nil
	case <-e.ctx.Done():
		return ErrClosed
	}
}

func (e *Engine) do(ctx context.Context, label string, apply func(Snapshot) (Snapshot, error)) (Snapshot, error) {
	res := make(chan error, 1)
	if err := e.enqueue(envelope{label: label, apply: apply, result: res}); err != nil {
		return Snapshot{}, err
	}
	select {
	case err := <-res:
		if err != nil {
			return e.Snapshot(), err
		}
		return e.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.done:
		return Snapshot{}, ErrClosed
	}
}

// Submit queues a change event without waiting for it to be merged.
func (e *Engine) Submit(ev ChangeEvent) error {
	return e.enqueue(envelope{label: string(ev.Stream), apply: func(s Snapshot) (Snapshot, error) {
		return e.reconciler.Apply(s, ev)
	}})
}

// Apply merges a change event and waits for the result.
func (e *Engine) Apply(ctx context.Context, ev ChangeEvent) (Snapshot, error) {
	return e.do(ctx, string(ev.Stream), func(s Snapshot) (Snapshot, error) {
		return e.reconciler.Apply(s, ev)
	})
}

// AppendChat queues a chat message.
func (e *Engine) AppendChat(msg models.ChatMessage) error {
	return e.enqueue(envelope{label: "chat", apply: func(s Snapshot) (Snapshot, error) {
		return e.reconciler.AppendChat(s, msg)
	}})
}

// AddEngagement queues an engagement increment for a participant.
func (e *Engine) AddEngagement(participantID uuid.UUID, delta float64) error {
	return e.enqueue(envelope{label: "engagement", apply: func(s Snapshot) (Snapshot, error) {
		return e.reconciler.AddEngagement(s, participantID, delta)
	}})
}

// AppendInsights queues insights for appending.
func (e *Engine) AppendInsights(insights ...models.Insight) error {
	return e.enqueue(envelope{label: "insight", apply: func(s Snapshot) (Snapshot, error) {
		return e.reconciler.AppendInsights(s, insights)
	}})
}

// SetRecording mirrors a recording state change and waits for it to be visible.
func (e *Engine) SetRecording(ctx context.Context, state models.RecordingState) error {
	_, err := e.do(ctx, "recording", func(s Snapshot) (Snapshot, error) {
		return e.reconciler.SetRecording(s, state)
	})
	return err
}

// Flush waits until everything queued before the call has been processed.
func (e *Engine) Flush(ctx context.Context) error {
	_, err := e.do(ctx, "flush", nil)
	return err
}
