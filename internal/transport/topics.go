package transport

// ── Topic constants ───────────────────────────────────────────────────────────
// Single source of truth for all broker topic strings used across the
// codebase. The names are part of the wire contract with the server and
// other clients — do not change them.
const (
	// TopicGlobal carries broadcasts not tied to a specific channel.
	// Subscribed automatically on every (re)connect.
	TopicGlobal = "/topic/global"

	// Per-text-channel topic prefixes. Full topic: prefix + channelID + suffix.
	topicChannelPrefix = "/topic/channel/"

	suffixSend     = "/send"
	suffixEdit     = "/edit"
	suffixDelete   = "/delete"
	suffixReaction = "/reaction"

	// Voice signaling and membership prefixes. Full topic: prefix + channelID.
	topicWebRTCPrefix = "/topic/webrtc/"
	topicVoicePrefix  = "/topic/voice/"
)

// ChannelTopic returns the full topic name for one of a text channel's
// four message topics.
func ChannelTopic(channelID string, kind EventKind) string {
	switch kind {
	case EventEdit:
		return topicChannelPrefix + channelID + suffixEdit
	case EventDelete:
		return topicChannelPrefix + channelID + suffixDelete
	case EventReaction:
		return topicChannelPrefix + channelID + suffixReaction
	default:
		return topicChannelPrefix + channelID + suffixSend
	}
}

// WebRTCTopic returns the signaling topic for a voice channel.
func WebRTCTopic(channelID string) string { return topicWebRTCPrefix + channelID }

// VoiceTopic returns the membership topic for a voice channel.
func VoiceTopic(channelID string) string { return topicVoicePrefix + channelID }

// ── Signaling payloads ── topic: "/topic/webrtc/{channelID}" ──────────────────
//
// All voice signals share the signaling topic and are routed by the "type"
// field. Sequence between two peers A and B joining channel ch:
//
//	A                               B
//	──────────────────────────────────────────────────────
//	OFFER ────────────────────────► (B sets remote, answers)
//	      ◄──────────────────────── ANSWER
//	ICE_CANDIDATE ◄───────────────► ICE_CANDIDATE  (trickle, both ways)
//	DISCONNECT ───────────────────► (either side, on leave)
//
// Both sides also receive their own signals back from the broker; receivers
// drop frames whose UserID matches their own.

// SignalType is the value of the "type" field in signaling payloads.
type SignalType string

const (
	SignalOffer        SignalType = "OFFER"
	SignalAnswer       SignalType = "ANSWER"
	SignalICECandidate SignalType = "ICE_CANDIDATE"
	SignalDisconnect   SignalType = "DISCONNECT"
)

// ICECandidateInit is the standard RTCIceCandidateInit shape (W3C WebRTC).
type ICECandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// SignalMessage is the wire shape of every frame on a signaling topic.
type SignalMessage struct {
	Type      SignalType        `json:"type"`
	SDP       string            `json:"sdp,omitempty"`
	Candidate *ICECandidateInit `json:"candidate,omitempty"`
	UserID    int64             `json:"userId"`
	Username  string            `json:"username"`
}

// ── Membership payloads ── topic: "/topic/voice/{channelID}" ──────────────────

// MembershipEvent is the value of the "event" field in membership payloads.
type MembershipEvent string

const (
	MemberJoined MembershipEvent = "USER_JOINED"
	MemberLeft   MembershipEvent = "USER_LEFT"
)

// MembershipMessage announces a participant joining or leaving a voice
// channel. Server-sourced; clients only consume it.
type MembershipMessage struct {
	Event    MembershipEvent `json:"event"`
	Username string          `json:"username"`
}

// ── Typed publish helpers ─────────────────────────────────────────────────────

// PublishSignal sends a signaling message on a voice channel's signaling
// topic. Delivery is best-effort, like every Publish.
func (s *Session) PublishSignal(channelID string, sig SignalMessage) {
	s.Publish(WebRTCTopic(channelID), sig)
}

// PublishChannelMessage sends a payload on one of a text channel's four
// message topics.
func (s *Session) PublishChannelMessage(channelID string, kind EventKind, payload any) {
	s.Publish(ChannelTopic(channelID, kind), payload)
}
