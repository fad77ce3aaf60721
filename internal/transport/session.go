package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// reconnectDelay is the fixed wait between connection attempts.
	// This is the only retry policy in the system.
	reconnectDelay = 5 * time.Second

	writeTimeout = 10 * time.Second
)

// ErrAlreadyConnected is returned by Connect when the session is already
// running.
var ErrAlreadyConnected = errors.New("transport: session already connected")

// Session owns the broker websocket, the subscription registry, and the
// per-channel topic quadruples. It is constructed once at session start
// with the delivery handlers injected; reconnection is automatic and
// transparent to subscribers.
type Session struct {
	url      string
	handlers Handlers

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	done    chan struct{}

	writeMu sync.Mutex

	subMu    sync.Mutex
	subs     map[string]map[string]*Subscription // destination → sub id → sub
	channels map[string]*ChannelSubscription
}

// Subscription is a raw subscription on a single topic. The owner must call
// Unsubscribe exactly once when done; extra calls are harmless.
type Subscription struct {
	id          string
	destination string
	fn          func(body json.RawMessage)

	s    *Session
	once sync.Once
}

// Unsubscribe removes the subscription from the registry and, if it was the
// last subscriber on its topic, tells the broker to stop delivering it.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.s.dropSubscription(sub)
	})
}

// ChannelSubscription bundles the four per-channel topic subscriptions
// (send/edit/delete/reaction) into one owned resource. The four are opened
// together and closed together; there is no partially-subscribed state.
type ChannelSubscription struct {
	channelID string
	subs      [4]*Subscription
}

func (cs *ChannelSubscription) close() {
	for _, sub := range cs.subs {
		sub.Unsubscribe()
	}
}

// New creates a broker session for the given websocket URL. Handlers are
// the only delivery targets the session will ever dispatch into.
func New(url string, h Handlers) *Session {
	return &Session{
		url:      url,
		handlers: h,
		done:     make(chan struct{}),
		subs:     make(map[string]map[string]*Subscription),
		channels: make(map[string]*ChannelSubscription),
	}
}

// Connect starts the connection loop. It returns immediately; dial failures
// are logged and retried every reconnectDelay until Disconnect is called or
// ctx is cancelled. On every successful (re)connect, the global topic and
// all registered subscriptions are re-established before any frame is read.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Disconnect tears down the connection and all subscriptions. The session
// cannot be reused afterwards.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	s.subMu.Lock()
	s.subs = make(map[string]map[string]*Subscription)
	s.channels = make(map[string]*ChannelSubscription)
	s.subMu.Unlock()

	log.Printf("TRANSPORT: disconnected")
}

// Publish serializes payload and sends it to destination. When the socket
// is down the frame is dropped with a log line only — callers must not
// assume delivery confirmation.
func (s *Session) Publish(destination string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("TRANSPORT: publish to %s: marshal: %v", destination, err)
		return
	}
	frame := Frame{
		Type:        FrameTypeSend,
		ID:          uuid.NewString(),
		Destination: destination,
		Body:        body,
	}
	if err := s.writeFrame(frame); err != nil {
		log.Printf("TRANSPORT: publish to %s dropped: %v", destination, err)
	}
}

// SubscribeToChannel establishes the send/edit/delete/reaction quadruple
// for a text channel. Idempotent: subscribing to an already-subscribed
// channel logs and returns without side effect.
func (s *Session) SubscribeToChannel(channelID string) {
	s.subMu.Lock()
	if _, ok := s.channels[channelID]; ok {
		s.subMu.Unlock()
		log.Printf("TRANSPORT: channel %s already subscribed", channelID)
		return
	}

	cs := &ChannelSubscription{channelID: channelID}
	var newTopics []string
	for i, kind := range []EventKind{EventSend, EventEdit, EventDelete, EventReaction} {
		k := kind
		topic := ChannelTopic(channelID, k)
		sub, first := s.registerLocked(topic, func(body json.RawMessage) {
			if s.handlers.OnChannelEvent != nil {
				s.handlers.OnChannelEvent(ChannelEvent{ChannelID: channelID, Kind: k, Body: body})
			}
		})
		cs.subs[i] = sub
		if first {
			newTopics = append(newTopics, topic)
		}
	}
	s.channels[channelID] = cs
	s.subMu.Unlock()

	s.announce(newTopics)
	log.Printf("TRANSPORT: subscribed channel %s", channelID)
}

// UnsubscribeFromChannel closes a channel's quadruple. No-op with a warning
// when the channel was never subscribed.
func (s *Session) UnsubscribeFromChannel(channelID string) {
	s.subMu.Lock()
	cs, ok := s.channels[channelID]
	if ok {
		delete(s.channels, channelID)
	}
	s.subMu.Unlock()

	if !ok {
		log.Printf("TRANSPORT: unsubscribe: channel %s not subscribed", channelID)
		return
	}
	cs.close()
	log.Printf("TRANSPORT: unsubscribed channel %s", channelID)
}

// SubscribeWebRTC establishes a raw subscription on a voice channel's
// signaling topic. Every inbound frame body is forwarded verbatim to fn.
func (s *Session) SubscribeWebRTC(channelID string, fn func(body json.RawMessage)) *Subscription {
	return s.subscribe(WebRTCTopic(channelID), fn)
}

// SubscribeVoiceChannel establishes a raw subscription on a voice channel's
// membership topic.
func (s *Session) SubscribeVoiceChannel(channelID string, fn func(body json.RawMessage)) *Subscription {
	return s.subscribe(VoiceTopic(channelID), fn)
}

func (s *Session) subscribe(destination string, fn func(body json.RawMessage)) *Subscription {
	s.subMu.Lock()
	sub, first := s.registerLocked(destination, fn)
	s.subMu.Unlock()

	if first {
		s.announce([]string{destination})
	}
	return sub
}

// registerLocked adds a subscription to the registry. Caller holds subMu.
// Reports whether this is the topic's first subscriber; the caller must
// then announce the destination to the broker after releasing the lock —
// socket writes carry a deadline and must never stall the registry.
func (s *Session) registerLocked(destination string, fn func(body json.RawMessage)) (*Subscription, bool) {
	sub := &Subscription{
		id:          uuid.NewString(),
		destination: destination,
		fn:          fn,
		s:           s,
	}
	first := len(s.subs[destination]) == 0
	if s.subs[destination] == nil {
		s.subs[destination] = make(map[string]*Subscription)
	}
	s.subs[destination][sub.id] = sub
	return sub, first
}

// announce sends a subscribe frame per destination. Write failures only
// mean the socket is down; the destinations are replayed on (re)connect.
func (s *Session) announce(destinations []string) {
	for _, d := range destinations {
		if err := s.writeFrame(Frame{Type: FrameTypeSubscribe, ID: uuid.NewString(), Destination: d}); err != nil {
			log.Printf("TRANSPORT: subscribe %s deferred: %v", d, err)
		}
	}
}

func (s *Session) dropSubscription(sub *Subscription) {
	s.subMu.Lock()
	m := s.subs[sub.destination]
	delete(m, sub.id)
	last := len(m) == 0
	if last {
		delete(s.subs, sub.destination)
	}
	s.subMu.Unlock()

	if last {
		if err := s.writeFrame(Frame{Type: FrameTypeUnsubscribe, ID: sub.id, Destination: sub.destination}); err != nil {
			log.Printf("TRANSPORT: unsubscribe %s deferred: %v", sub.destination, err)
		}
	}
}

// run is the connection loop: dial, replay subscriptions, read until the
// socket dies, wait reconnectDelay, repeat. Exits when Disconnect is called
// or ctx is cancelled.
func (s *Session) run(ctx context.Context) {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("TRANSPORT: connect %s: %v", s.url, err)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		log.Printf("TRANSPORT: connected to %s", s.url)
		s.replaySubscriptions()

		err = s.readLoop(conn)

		s.mu.Lock()
		closed := s.closed
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		if closed || ctx.Err() != nil {
			return
		}
		log.Printf("TRANSPORT: connection lost: %v — retrying in %s", err, reconnectDelay)
		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, errors.New("session closed")
	}
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// replaySubscriptions re-sends subscribe frames for the global topic and
// every registered destination after a (re)connect.
func (s *Session) replaySubscriptions() {
	if err := s.writeFrame(Frame{Type: FrameTypeSubscribe, ID: uuid.NewString(), Destination: TopicGlobal}); err != nil {
		log.Printf("TRANSPORT: subscribe global: %v", err)
	}

	s.subMu.Lock()
	destinations := make([]string, 0, len(s.subs))
	for d := range s.subs {
		destinations = append(destinations, d)
	}
	s.subMu.Unlock()

	for _, d := range destinations {
		if err := s.writeFrame(Frame{Type: FrameTypeSubscribe, ID: uuid.NewString(), Destination: d}); err != nil {
			log.Printf("TRANSPORT: resubscribe %s: %v", d, err)
		}
	}
	if len(destinations) > 0 {
		log.Printf("TRANSPORT: replayed %d subscriptions", len(destinations))
	}
}

// readLoop reads frames until the socket errors. Malformed frames are
// dropped with a warning; they never terminate the connection.
func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("TRANSPORT: dropping malformed frame: %v", err)
			continue
		}

		switch frame.Type {
		case FrameTypeMessage:
			s.route(frame)
		case FrameTypeError:
			log.Printf("TRANSPORT: broker error: %s", frame.Message)
		default:
			log.Printf("TRANSPORT: dropping frame with unknown type %q", frame.Type)
		}
	}
}

// route dispatches one inbound message frame to its topic's subscribers.
// Handlers run on the reader goroutine; the registry lock is released first
// so handlers may subscribe and unsubscribe re-entrantly.
func (s *Session) route(frame Frame) {
	if frame.Destination == TopicGlobal {
		if s.handlers.OnGlobal != nil {
			s.handlers.OnGlobal(frame.Body)
		}
		return
	}

	s.subMu.Lock()
	targets := make([]*Subscription, 0, len(s.subs[frame.Destination]))
	for _, sub := range s.subs[frame.Destination] {
		targets = append(targets, sub)
	}
	s.subMu.Unlock()

	if len(targets) == 0 {
		log.Printf("TRANSPORT: no subscriber for %s, dropping", frame.Destination)
		return
	}
	for _, sub := range targets {
		sub.fn(frame.Body)
	}
}

func (s *Session) writeFrame(frame Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

// sleep waits one reconnectDelay, returning false when the session was
// closed or ctx cancelled in the meantime.
func (s *Session) sleep(ctx context.Context) bool {
	select {
	case <-time.After(reconnectDelay):
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
