package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultCommandTimeout bounds how long a recording command waits for the host's acknowledgement.
const DefaultCommandTimeout = 15 * time.Second

// TransportBridge controls one session's embedded video transport through the hub.
// Recording commands need an acknowledgement and are only sent to a host on this instance;
// the other commands are fire-and-forget and reach hosts on every instance.
type TransportBridge struct {
	hub       *Hub
	sessionID uuid.UUID
	timeout   time.Duration
}

// NewTransportBridge creates a bridge for sessionID. A zero timeout selects DefaultCommandTimeout.
func NewTransportBridge(hub *Hub, sessionID uuid.UUID, timeout time.Duration) *TransportBridge {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &TransportBridge{hub: hub, sessionID: sessionID, timeout: timeout}
}

// RecordingAvailable reports whether a local client hosts the transport.
func (b *TransportBridge) RecordingAvailable() bool {
	return b.hub.HasHost(b.sessionID)
}

// StartRecording asks the host to start transport recording.
func (b *TransportBridge) StartRecording(ctx context.Context) error {
	_, err := b.command(ctx, CommandStartRecording, nil)
	return err
}

// StopRecording asks the host to stop transport recording and returns the recording url, if any.
func (b *TransportBridge) StopRecording(ctx context.Context) (string, error) {
	res, err := b.command(ctx, CommandStopRecording, nil)
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

func (b *TransportBridge) command(ctx context.Context, name string, args map[string]any) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.hub.Command(ctx, b.sessionID, name, args)
}

// SignalAvailable tells the transport the meeting is open to join.
func (b *TransportBridge) SignalAvailable(ctx context.Context) {
	b.hub.Notify(ctx, b.sessionID, CommandMeetingAvailable, nil)
}

// HangUp ends the meeting on the transport.
func (b *TransportBridge) HangUp(ctx context.Context) {
	b.hub.Notify(ctx, b.sessionID, CommandHangUp, nil)
}

// Mute turns off a participant's audio.
func (b *TransportBridge) Mute(ctx context.Context, participantID uuid.UUID) {
	b.hub.Notify(ctx, b.sessionID, CommandToggleAudio, map[string]any{
		"participant_id": participantID.String(),
		"enabled":        false,
	})
}

// Remove drops a participant from the meeting.
func (b *TransportBridge) Remove(ctx context.Context, participantID uuid.UUID) {
	b.hub.Notify(ctx, b.sessionID, CommandRemoveParticipant, map[string]any{
		"participant_id": participantID.String(),
	})
}
