// Package chat maintains the authoritative per-channel message lists and
// reconciles optimistic local sends against broker-confirmed echoes.
package chat

import (
	"log"
	"sync"
	"time"

	"github.com/harborchat/harbor/internal/transport"
	"github.com/harborchat/harbor/internal/util"
)

const (
	// SendTimeout is how long a pending message waits for its broker echo
	// before being marked error.
	SendTimeout = 5 * time.Second

	// recentEventCap is how many delivered events are retained for replay
	// to late subscribers.
	recentEventCap = 200
)

// Publisher is the outbound surface the synchronizer needs from the
// transport layer.
type Publisher interface {
	PublishChannelMessage(channelID string, kind transport.EventKind, payload any)
}

// EventType tags a change to a channel's message list.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event is delivered to subscribers whenever a channel list changes.
type Event struct {
	Type      EventType
	ChannelID string
	Message   Message // snapshot at the time of the change
}

// Manager owns the per-channel message lists. The transport session never
// mutates them; it hands parsed frames to HandleEvent and the manager does
// the rest.
type Manager struct {
	pub     Publisher
	self    Sender
	timeout time.Duration

	mu       sync.RWMutex
	channels map[string][]*Message

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
	recent     *util.Recent[Event]
}

// NewManager creates a synchronizer for the given local identity. pub may
// be nil in tests; SendMessage then only performs the optimistic append.
func NewManager(pub Publisher, self Sender) *Manager {
	return &Manager{
		pub:       pub,
		self:      self,
		timeout:   SendTimeout,
		channels:  make(map[string][]*Message),
		listeners: make(map[chan Event]struct{}),
		recent:    util.NewRecent[Event](recentEventCap),
	}
}

// Self returns the local identity the manager reconciles against.
func (m *Manager) Self() Sender { return m.self }

// SendMessage appends an optimistic pending entry, publishes the frame on
// the channel's send topic, and arms the error timeout. The returned
// snapshot carries the assigned temp id.
func (m *Manager) SendMessage(channelID string, typ Type, content string, attachments []Attachment) Message {
	if typ == "" {
		typ = TypeText
	}
	msg := &Message{
		TempID:      newTempID(),
		ChannelID:   channelID,
		Sender:      m.self,
		Type:        typ,
		Content:     content,
		CreatedAt:   time.Now(),
		Attachments: attachments,
		Status:      StatusPending,
		Lifecycle:   LifecycleActive,
	}

	m.mu.Lock()
	m.channels[channelID] = append(m.channels[channelID], msg)
	snapshot := *msg
	m.mu.Unlock()

	m.emit(Event{Type: EventAdded, ChannelID: channelID, Message: snapshot})

	if m.pub != nil {
		m.pub.PublishChannelMessage(channelID, transport.EventSend, snapshot.Wire())
	}

	// If the echo never arrives, flip the entry to error so the user can
	// re-send. A reconciled entry no longer matches and the timer is a no-op.
	time.AfterFunc(m.timeout, func() {
		m.MarkMessageError(channelID, content, m.self.ID)
	})

	return snapshot
}

// HandleEvent is the transport delivery callback: it parses the frame and
// dispatches by topic kind. Malformed frames are dropped with a warning.
func (m *Manager) HandleEvent(evt transport.ChannelEvent) {
	w, err := ParseWire(evt.Body)
	if err != nil {
		log.Printf("CHAT: dropping malformed %s frame for channel %s: %v", evt.Kind, evt.ChannelID, err)
		return
	}

	switch evt.Kind {
	case transport.EventSend:
		m.ReceiveMessage(evt.ChannelID, w, m.self.ID)
	case transport.EventEdit:
		m.UpdateMessage(evt.ChannelID, w)
	case transport.EventDelete:
		// A delete frame carrying only a temp id removes the entry for
		// good; anything else is a soft delete.
		if w.ID == 0 && w.TempID != 0 {
			m.DeleteMessagePermanently(evt.ChannelID, w.TempID)
		} else {
			m.DeleteMessage(evt.ChannelID, w.ID)
		}
	case transport.EventReaction:
		m.UpdateReactions(evt.ChannelID, w)
	default:
		log.Printf("CHAT: dropping frame with unknown kind %q", evt.Kind)
	}
}

// ReceiveMessage applies a confirmed broadcast. Own echoes reconcile
// against the oldest pending entry with the same sender and content,
// replacing it in place; foreign messages append unless the id is already
// present (duplicate, dropped).
//
// Matching on (sender, content) cannot tell two rapid identical sends
// apart — the first echo may reconcile against the wrong entry. Known
// limitation: a client-generated correlation id carried through the broker
// would be needed to close it.
func (m *Manager) ReceiveMessage(channelID string, w *WireMessage, currentUserID int64) {
	confirmed := w.Message(channelID)

	m.mu.Lock()
	list := m.channels[channelID]

	if w.Sender.ID == currentUserID {
		for i, entry := range list {
			if entry.Status == StatusPending && entry.Sender.ID == currentUserID && entry.Content == w.Content {
				confirmed.TempID = entry.TempID // keep the local correlation id
				list[i] = confirmed
				snapshot := *confirmed
				m.mu.Unlock()
				m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
				return
			}
		}
	}

	for _, entry := range list {
		if entry.ID != 0 && entry.ID == w.ID {
			m.mu.Unlock()
			log.Printf("CHAT: duplicate message %d in channel %s, dropping", w.ID, channelID)
			return
		}
	}

	m.channels[channelID] = append(list, confirmed)
	snapshot := *confirmed
	m.mu.Unlock()

	m.emit(Event{Type: EventAdded, ChannelID: channelID, Message: snapshot})
}

// UpdateMessage overwrites the content of an existing message and marks it
// edited. Unknown ids are tolerated: the edit may have outrun its send
// across topics.
func (m *Manager) UpdateMessage(channelID string, w *WireMessage) {
	m.mu.Lock()
	msg := m.findByID(channelID, w.ID)
	if msg == nil {
		m.mu.Unlock()
		log.Printf("CHAT: edit for unknown message %d in channel %s, ignoring", w.ID, channelID)
		return
	}
	msg.Content = w.Content
	msg.Edited = true
	snapshot := *msg
	m.mu.Unlock()

	m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
}

// UpdateReactions replaces a message's reaction list with the
// server-provided one.
func (m *Manager) UpdateReactions(channelID string, w *WireMessage) {
	m.mu.Lock()
	msg := m.findByID(channelID, w.ID)
	if msg == nil {
		m.mu.Unlock()
		log.Printf("CHAT: reaction for unknown message %d in channel %s, ignoring", w.ID, channelID)
		return
	}
	msg.Reactions = w.Reactions
	snapshot := *msg
	m.mu.Unlock()

	m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
}

// DeleteMessage tombstones a message: content replaced, attachments
// cleared, type forced to text. The entry stays in the list.
func (m *Manager) DeleteMessage(channelID string, messageID int64) {
	m.mu.Lock()
	msg := m.findByID(channelID, messageID)
	if msg == nil {
		m.mu.Unlock()
		log.Printf("CHAT: delete for unknown message %d in channel %s, ignoring", messageID, channelID)
		return
	}
	msg.Content = TombstoneContent
	msg.Attachments = nil
	msg.Type = TypeText
	msg.Lifecycle = LifecycleTombstoned
	snapshot := *msg
	m.mu.Unlock()

	m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
}

// DeleteMessagePermanently removes an entry matched by temp id.
func (m *Manager) DeleteMessagePermanently(channelID string, tempID int64) {
	m.mu.Lock()
	list := m.channels[channelID]
	for i, entry := range list {
		if entry.TempID != 0 && entry.TempID == tempID {
			snapshot := *entry
			m.channels[channelID] = append(list[:i], list[i+1:]...)
			m.mu.Unlock()
			m.emit(Event{Type: EventRemoved, ChannelID: channelID, Message: snapshot})
			return
		}
	}
	m.mu.Unlock()
	log.Printf("CHAT: permanent delete for unknown temp id %d in channel %s, ignoring", tempID, channelID)
}

// MarkMessageError flips the oldest pending entry matching (sender,
// content) to error. Called by the send timeout; a silent miss means the
// entry was reconciled in time.
func (m *Manager) MarkMessageError(channelID, content string, senderID int64) {
	m.mu.Lock()
	for _, entry := range m.channels[channelID] {
		if entry.Status == StatusPending && entry.Sender.ID == senderID && entry.Content == content {
			entry.Status = StatusError
			snapshot := *entry
			m.mu.Unlock()
			log.Printf("CHAT: message %q in channel %s timed out", content, channelID)
			m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
			return
		}
	}
	m.mu.Unlock()
}

// UpdateUploadProgress records attachment upload progress on the entry with
// the matching temp id, whichever channel it lives in.
func (m *Manager) UpdateUploadProgress(tempID int64, progress int) {
	m.mu.Lock()
	for channelID, list := range m.channels {
		for _, entry := range list {
			if entry.TempID == tempID {
				entry.Progress = progress
				snapshot := *entry
				m.mu.Unlock()
				m.emit(Event{Type: EventUpdated, ChannelID: channelID, Message: snapshot})
				return
			}
		}
	}
	m.mu.Unlock()
}

// Messages returns a snapshot of a channel's list in order.
func (m *Manager) Messages(channelID string) []Message {
	m.mu.RLock()
	list := m.channels[channelID]
	out := make([]Message, len(list))
	for i, msg := range list {
		out[i] = *msg
	}
	m.mu.RUnlock()
	return out
}

// SetHistory seeds a channel's list from the local cache. Only applied when
// the channel has no entries yet, so a live list is never clobbered.
func (m *Manager) SetHistory(channelID string, history []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.channels[channelID]) > 0 {
		return
	}
	list := make([]*Message, len(history))
	for i := range history {
		msg := history[i]
		list[i] = &msg
	}
	m.channels[channelID] = list
}

// Subscribe returns a buffered event channel. The most recent events are
// replayed immediately so a late subscriber does not miss what just
// happened. Cancel must be called exactly once.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, recentEventCap+64)

	// Replay and registration must be atomic with respect to emit, or an
	// event landing between them reaches neither the replay nor the channel.
	m.listenerMu.Lock()
	for _, evt := range m.recent.Items() {
		ch <- evt
	}
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// findByID locates a message by server id, falling back to temp id for
// entries not yet confirmed. Caller holds mu.
func (m *Manager) findByID(channelID string, id int64) *Message {
	for _, entry := range m.channels[channelID] {
		if (entry.ID != 0 && entry.ID == id) || (entry.TempID != 0 && entry.TempID == id) {
			return entry
		}
	}
	return nil
}

func (m *Manager) emit(evt Event) {
	m.listenerMu.Lock()
	m.recent.Add(evt)
	for ch := range m.listeners {
		select {
		case ch <- evt:
		default:
			// Listener buffer full, skip
		}
	}
	m.listenerMu.Unlock()
}
