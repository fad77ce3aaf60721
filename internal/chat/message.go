package chat

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a locally-tracked message.
// A pending message either reconciles against its broker echo (→ sent) or
// times out (→ error). There is no transition out of error: the user
// re-sends, creating a fresh pending entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Lifecycle distinguishes live messages from soft-deleted tombstones.
// A tombstoned message stays in the channel list with replaced content;
// only a permanent delete removes the entry.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleTombstoned Lifecycle = "tombstoned"
)

// Type is the content kind of a message.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeVoice Type = "voice"
	TypeFile  Type = "file"
)

// TombstoneContent replaces the body of a soft-deleted message.
const TombstoneContent = "This message has been deleted"

// Sender identifies the author of a message.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   int64  `json:"userId"`
	Username string `json:"username,omitempty"`
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Message is one entry in a channel's message list.
//
// ID is the server-assigned identifier, zero while pending. TempID is the
// timestamp-derived local identifier assigned on optimistic send; it
// survives reconciliation so a later permanent delete can still correlate
// the entry.
type Message struct {
	ID          int64        `json:"id"`
	TempID      int64        `json:"tempId,omitempty"`
	ChannelID   string       `json:"channelId"`
	Sender      Sender       `json:"sender"`
	Type        Type         `json:"type"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Parent      *Message     `json:"parentMessage,omitempty"`
	Edited      bool         `json:"edited"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Status      Status       `json:"status"`
	Lifecycle   Lifecycle    `json:"lifecycle"`
	Progress    int          `json:"progress,omitempty"` // upload percentage, 0–100
}

// Deleted reports whether the message has been tombstoned.
func (m *Message) Deleted() bool { return m.Lifecycle == LifecycleTombstoned }

// newTempID derives a local message id from the current time. Collisions
// within the same millisecond are not a concern: reconciliation matches on
// (sender, content), not on the temp id.
func newTempID() int64 { return time.Now().UnixMilli() }

// WireMessage is the frame shape shared by all four per-channel topics.
type WireMessage struct {
	ID        int64        `json:"id"`
	TempID    int64        `json:"tempId,omitempty"`
	Sender    Sender       `json:"sender"`
	Type      Type         `json:"type"`
	Content   string       `json:"content"`
	CreatedAt int64        `json:"createdAt"` // unix milliseconds
	Reactions []Reaction   `json:"reactions,omitempty"`
	Parent    *WireMessage `json:"parentMessage,omitempty"`
	Deleted   bool         `json:"deleted"`
	Edited    bool         `json:"edited"`
	MediaURL  string       `json:"mediaUrl,omitempty"`
}

// ParseWire decodes a raw topic frame body.
func ParseWire(data []byte) (*WireMessage, error) {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Message converts a wire frame into a channel-list entry.
func (w *WireMessage) Message(channelID string) *Message {
	msg := &Message{
		ID:        w.ID,
		TempID:    w.TempID,
		ChannelID: channelID,
		Sender:    w.Sender,
		Type:      w.Type,
		Content:   w.Content,
		CreatedAt: time.UnixMilli(w.CreatedAt),
		Reactions: w.Reactions,
		Edited:    w.Edited,
		Status:    StatusSent,
		Lifecycle: LifecycleActive,
	}
	if w.Type == "" {
		msg.Type = TypeText
	}
	if w.Deleted {
		msg.Lifecycle = LifecycleTombstoned
	}
	if w.MediaURL != "" {
		msg.Attachments = []Attachment{{URL: w.MediaURL}}
	}
	if w.Parent != nil {
		msg.Parent = w.Parent.Message(channelID)
	}
	return msg
}

// Wire converts a local message into its frame shape for publishing.
func (m *Message) Wire() WireMessage {
	w := WireMessage{
		ID:        m.ID,
		TempID:    m.TempID,
		Sender:    m.Sender,
		Type:      m.Type,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UnixMilli(),
		Reactions: m.Reactions,
		Deleted:   m.Deleted(),
		Edited:    m.Edited,
	}
	if len(m.Attachments) > 0 {
		w.MediaURL = m.Attachments[0].URL
	}
	if m.Parent != nil {
		pw := m.Parent.Wire()
		w.Parent = &pw
	}
	return w
}
