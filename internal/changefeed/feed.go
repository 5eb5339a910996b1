// Package changefeed carries store mutations between instances over Redis pub/sub.
// Each session has one channel per stream; messages are JSON {op, record}.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
)

const (
	channelPrefix  = "livesession:changes:"
	publishTimeout = 5 * time.Second
)

type message struct {
	Op     livesession.Op  `json:"op"`
	Record json.RawMessage `json:"record"`
}

// Channel returns the pub/sub channel for one stream of a session.
func Channel(sessionID uuid.UUID, stream livesession.Stream) string {
	return channelPrefix + sessionID.String() + ":" + string(stream)
}

// parseChannel extracts the stream from a channel name.
func parseChannel(channel string) (uuid.UUID, livesession.Stream, error) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("unexpected channel %q", channel)
	}
	idPart, streamPart, ok := strings.Cut(rest, ":")
	if !ok {
		return uuid.Nil, "", fmt.Errorf("unexpected channel %q", channel)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("channel session id: %w", err)
	}
	stream := livesession.Stream(streamPart)
	if !stream.Valid() {
		return uuid.Nil, "", fmt.Errorf("unknown stream %q", streamPart)
	}
	return id, stream, nil
}

// Decode turns a pub/sub message into a change event.
func Decode(channel, payload string) (livesession.ChangeEvent, error) {
	_, stream, err := parseChannel(channel)
	if err != nil {
		return livesession.ChangeEvent{}, err
	}
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return livesession.ChangeEvent{}, fmt.Errorf("decode change: %w", err)
	}
	return livesession.ChangeEvent{Stream: stream, Op: m.Op, Record: m.Record}, nil
}

// Encode renders the wire form of a change.
func Encode(op livesession.Op, record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return json.Marshal(message{Op: op, Record: raw})
}

// Feed publishes and subscribes to session change streams.
type Feed struct {
	client *redis.Client
	logger *zap.Logger
}

// New creates a Redis change feed.
func New(client *redis.Client, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{client: client, logger: logger}
}

// Publish announces a store mutation to every instance subscribed to the session.
func (f *Feed) Publish(ctx context.Context, sessionID uuid.UUID, stream livesession.Stream, op livesession.Op, record any) error {
	body, err := Encode(op, record)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.client.Publish(ctx, Channel(sessionID, stream), body).Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", stream, err)
	}
	return nil
}

// Subscribe delivers every change of the session's three streams to handler until ctx is
// cancelled or the returned cancel func is called. Undecodable messages are logged and skipped.
func (f *Feed) Subscribe(ctx context.Context, sessionID uuid.UUID, handler func(livesession.ChangeEvent)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(ctx,
		Channel(sessionID, livesession.StreamSession),
		Channel(sessionID, livesession.StreamQuestion),
		Channel(sessionID, livesession.StreamParticipant),
	)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := Decode(msg.Channel, msg.Payload)
				if err != nil {
					f.logger.Warn("change dropped", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
