package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBroker is a minimal in-process relay: it records every frame the
// client sends and loops "send" frames back to the client as "message"
// frames on the same destination.
type stubBroker struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn

	frames chan Frame
}

func newStubBroker() *stubBroker {
	return &stubBroker{frames: make(chan Frame, 64)}
}

func (b *stubBroker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		b.frames <- frame

		if frame.Type == FrameTypeSend {
			b.deliver(Frame{Type: FrameTypeMessage, Destination: frame.Destination, Body: frame.Body})
		}
	}
}

// deliver pushes a frame to the connected client.
func (b *stubBroker) deliver(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.WriteJSON(frame)
	}
}

// deliverRaw writes arbitrary bytes, for malformed-frame tests.
func (b *stubBroker) deliverRaw(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.WriteMessage(websocket.TextMessage, data)
	}
}

// next returns the next frame the client sent, failing after a timeout.
func (b *stubBroker) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return Frame{}
	}
}

func startSession(t *testing.T, h Handlers) (*Session, *stubBroker) {
	t.Helper()
	broker := newStubBroker()
	server := httptest.NewServer(http.HandlerFunc(broker.handle))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	session := New(url, h)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, session.Connect(ctx))
	t.Cleanup(session.Disconnect)

	// The global topic is subscribed on every connect.
	global := broker.next(t)
	require.Equal(t, FrameTypeSubscribe, global.Type)
	require.Equal(t, TopicGlobal, global.Destination)

	return session, broker
}

func TestConnectTwiceFails(t *testing.T) {
	session, _ := startSession(t, Handlers{})
	assert.ErrorIs(t, session.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSubscribeToChannelOpensQuadruple(t *testing.T) {
	session, broker := startSession(t, Handlers{})

	session.SubscribeToChannel("general")

	want := map[string]bool{
		"/topic/channel/general/send":     true,
		"/topic/channel/general/edit":     true,
		"/topic/channel/general/delete":   true,
		"/topic/channel/general/reaction": true,
	}
	for i := 0; i < 4; i++ {
		f := broker.next(t)
		require.Equal(t, FrameTypeSubscribe, f.Type)
		require.True(t, want[f.Destination], "unexpected destination %s", f.Destination)
		delete(want, f.Destination)
	}
	assert.Empty(t, want, "all four topics must be subscribed")

	// Idempotent: no further frames for a repeat subscribe.
	session.SubscribeToChannel("general")
	select {
	case f := <-broker.frames:
		t.Fatalf("unexpected frame after repeat subscribe: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentSubscribersAnnounceTopicOnce(t *testing.T) {
	session, broker := startSession(t, Handlers{})

	var wg sync.WaitGroup
	subs := make([]*Subscription, 8)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i] = session.SubscribeWebRTC("voice-9", func(json.RawMessage) {})
		}(i)
	}
	wg.Wait()

	f := broker.next(t)
	require.Equal(t, FrameTypeSubscribe, f.Type)
	require.Equal(t, "/topic/webrtc/voice-9", f.Destination)

	// One announcement regardless of how many subscribers raced in.
	select {
	case f := <-broker.frames:
		t.Fatalf("unexpected frame after first announcement: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}

	for _, sub := range subs {
		require.NotNil(t, sub)
		sub.Unsubscribe()
	}
	f = broker.next(t)
	assert.Equal(t, FrameTypeUnsubscribe, f.Type)
}

func TestChannelEventDelivery(t *testing.T) {
	events := make(chan ChannelEvent, 8)
	session, broker := startSession(t, Handlers{
		OnChannelEvent: func(evt ChannelEvent) { events <- evt },
	})

	session.SubscribeToChannel("general")
	for i := 0; i < 4; i++ {
		broker.next(t)
	}

	broker.deliver(Frame{
		Type:        FrameTypeMessage,
		Destination: ChannelTopic("general", EventEdit),
		Body:        json.RawMessage(`{"id":5,"content":"fixed"}`),
	})

	select {
	case evt := <-events:
		assert.Equal(t, "general", evt.ChannelID)
		assert.Equal(t, EventEdit, evt.Kind)
		assert.JSONEq(t, `{"id":5,"content":"fixed"}`, string(evt.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("channel event not delivered")
	}
}

func TestUnsubscribeFromUnknownChannelIsNoOp(t *testing.T) {
	events := make(chan ChannelEvent, 8)
	session, broker := startSession(t, Handlers{
		OnChannelEvent: func(evt ChannelEvent) { events <- evt },
	})

	session.SubscribeToChannel("general")
	for i := 0; i < 4; i++ {
		broker.next(t)
	}

	// Never subscribed: logs a warning, nothing else.
	session.UnsubscribeFromChannel("phantom")

	// The existing channel's subscriptions are untouched.
	broker.deliver(Frame{
		Type:        FrameTypeMessage,
		Destination: ChannelTopic("general", EventSend),
		Body:        json.RawMessage(`{"id":1}`),
	})
	select {
	case evt := <-events:
		assert.Equal(t, "general", evt.ChannelID)
	case <-time.After(2 * time.Second):
		t.Fatal("existing subscription was disturbed")
	}
}

func TestPublishLoopsBackToSubscriber(t *testing.T) {
	session, broker := startSession(t, Handlers{})

	got := make(chan json.RawMessage, 1)
	sub := session.SubscribeWebRTC("voice-9", func(body json.RawMessage) { got <- body })
	defer sub.Unsubscribe()
	broker.next(t) // subscribe frame

	session.PublishSignal("voice-9", SignalMessage{Type: SignalOffer, SDP: "v=0", UserID: 7, Username: "alice"})
	broker.next(t) // send frame

	select {
	case body := <-got:
		var sig SignalMessage
		require.NoError(t, json.Unmarshal(body, &sig))
		assert.Equal(t, SignalOffer, sig.Type)
		assert.Equal(t, int64(7), sig.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not looped back")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	session, broker := startSession(t, Handlers{})

	sub := session.SubscribeVoiceChannel("voice-9", func(json.RawMessage) {})
	broker.next(t) // subscribe frame

	sub.Unsubscribe()
	f := broker.next(t)
	assert.Equal(t, FrameTypeUnsubscribe, f.Type)
	assert.Equal(t, VoiceTopic("voice-9"), f.Destination)

	// Second call must not send another frame or panic.
	sub.Unsubscribe()
	select {
	case f := <-broker.frames:
		t.Fatalf("unexpected frame after repeat unsubscribe: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	got := make(chan json.RawMessage, 1)
	session, broker := startSession(t, Handlers{})

	sub := session.SubscribeWebRTC("voice-9", func(body json.RawMessage) { got <- body })
	defer sub.Unsubscribe()
	broker.next(t)

	broker.deliverRaw([]byte(`{"type": not-json`))
	broker.deliver(Frame{
		Type:        FrameTypeMessage,
		Destination: WebRTCTopic("voice-9"),
		Body:        json.RawMessage(`{"type":"OFFER","userId":9}`),
	})

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not survive the malformed frame")
	}
}

func TestPublishWhileDisconnectedDropsSilently(t *testing.T) {
	session := New("ws://127.0.0.1:1/broker", Handlers{})
	// Never connected: must log and return, not block or panic.
	session.Publish(TopicGlobal, map[string]string{"drop": "me"})
}
