// Package transport implements the broker session: one reconnecting
// websocket connection multiplexing named topics.
// Wire format: one JSON frame per websocket message.
package transport

import "encoding/json"

// FrameType constants for the wire protocol.
const (
	FrameTypeSubscribe   = "subscribe"   // client → broker
	FrameTypeUnsubscribe = "unsubscribe" // client → broker
	FrameTypeSend        = "send"        // client → broker
	FrameTypeMessage     = "message"     // broker → client
	FrameTypeError       = "error"       // broker → client
)

// Frame is the wire type for everything that crosses the broker socket.
type Frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`          // uuid, client-assigned on outbound frames
	Destination string          `json:"destination,omitempty"` // topic name
	Body        json.RawMessage `json:"body,omitempty"`        // payload, opaque to the transport
	Message     string          `json:"message,omitempty"`     // set on type="error"
}

// EventKind identifies which of a text channel's four topics a frame
// arrived on.
type EventKind string

const (
	EventSend     EventKind = "send"
	EventEdit     EventKind = "edit"
	EventDelete   EventKind = "delete"
	EventReaction EventKind = "reaction"
)

// ChannelEvent is a parsed per-channel message frame, tagged with the
// originating channel and topic kind, as delivered to the synchronizer.
type ChannelEvent struct {
	ChannelID string
	Kind      EventKind
	Body      json.RawMessage
}

// Handlers bundles the delivery targets the Session dispatches into.
// They are injected at construction; the Session never reaches into
// component state on its own.
type Handlers struct {
	// OnChannelEvent receives every frame from a subscribed channel's
	// send/edit/delete/reaction topics. Must not block.
	OnChannelEvent func(evt ChannelEvent)

	// OnGlobal receives frames from the unscoped broadcast topic.
	// Optional.
	OnGlobal func(body json.RawMessage)
}
