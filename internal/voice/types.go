package voice

import (
	"context"
	"encoding/json"

	"github.com/harborchat/harbor/internal/transport"
)

// Signaler is the only surface the voice package needs from the transport
// layer: publish signaling frames and subscribe to the two voice topics.
type Signaler interface {
	PublishSignal(channelID string, sig transport.SignalMessage)
	SubscribeWebRTC(channelID string, fn func(body json.RawMessage)) *transport.Subscription
	SubscribeVoiceChannel(channelID string, fn func(body json.RawMessage)) *transport.Subscription
}

// Directory is the external membership-registration collaborator. Voice
// treats it as an opaque async endpoint; only success/failure matters.
type Directory interface {
	AddVoiceUser(ctx context.Context, channelID string, userID int64) error
	RemoveVoiceUser(ctx context.Context, channelID string, userID int64) error
	VoiceParticipants(ctx context.Context, channelID string) ([]string, error)
}

// Identity is the local user as seen in signaling frames.
type Identity struct {
	UserID   int64
	Username string
}
