// Package voice negotiates and maintains one peer-to-peer audio session
// per joined voice channel, using the broker purely as a signaling relay.
// It imports only Pion and the transport types; everything else reaches it
// through the Signaler and Directory interfaces.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/harborchat/harbor/internal/transport"
)

// Manager owns the active voice session. At most one voice channel is
// joined at a time; joining another leaves the current one first.
type Manager struct {
	sig  Signaler
	dir  Directory
	self Identity

	mu      sync.Mutex
	session *Session
}

// NewManager creates a voice manager for the local identity.
func NewManager(sig Signaler, dir Directory, self Identity) *Manager {
	return &Manager{sig: sig, dir: dir, self: self}
}

// Join registers membership, wires the signaling and membership topics,
// and starts negotiation on channelID. Joining the already-joined channel
// returns the existing session; joining a different one switches channels.
func (m *Manager) Join(ctx context.Context, channelID string) (*Session, error) {
	m.mu.Lock()
	if cur := m.session; cur != nil {
		if cur.channelID == channelID {
			m.mu.Unlock()
			return cur, nil
		}
		m.mu.Unlock()
		if err := m.Leave(ctx); err != nil {
			log.Printf("VOICE: leave %s before switch: %v", cur.channelID, err)
		}
		m.mu.Lock()
	}
	m.mu.Unlock()

	if err := m.dir.AddVoiceUser(ctx, channelID, m.self.UserID); err != nil {
		return nil, fmt.Errorf("voice join %s: register membership: %w", channelID, err)
	}

	sess := newSession(channelID, m.self, m.sig)

	// Subscribe before negotiating so no early frame is missed.
	sess.webrtcSub = m.sig.SubscribeWebRTC(channelID, func(body json.RawMessage) {
		var sig transport.SignalMessage
		if err := json.Unmarshal(body, &sig); err != nil {
			log.Printf("VOICE [%s]: dropping malformed signal: %v", channelID, err)
			return
		}
		sess.HandleSignal(sig)
	})
	sess.voiceSub = m.sig.SubscribeVoiceChannel(channelID, func(body json.RawMessage) {
		var mm transport.MembershipMessage
		if err := json.Unmarshal(body, &mm); err != nil {
			log.Printf("VOICE [%s]: dropping malformed membership event: %v", channelID, err)
			return
		}
		sess.HandleMembership(mm)
	})

	if names, err := m.dir.VoiceParticipants(ctx, channelID); err != nil {
		log.Printf("VOICE [%s]: fetch participants: %v", channelID, err)
	} else {
		sess.setParticipants(names)
	}

	if err := sess.start(); err != nil {
		sess.close(false)
		if derr := m.dir.RemoveVoiceUser(ctx, channelID, m.self.UserID); derr != nil {
			log.Printf("VOICE [%s]: deregister after failed join: %v", channelID, derr)
		}
		return nil, err
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	log.Printf("VOICE [%s]: joined", channelID)
	return sess, nil
}

// Leave deregisters membership and tears down the active session. No-op
// when no channel is joined.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	err := m.dir.RemoveVoiceUser(ctx, sess.channelID, m.self.UserID)
	sess.close(true)
	if err != nil {
		return fmt.Errorf("voice leave %s: deregister membership: %w", sess.channelID, err)
	}
	return nil
}

// Current returns the active session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

// Close tears down whatever session is active. Used on shutdown.
func (m *Manager) Close() {
	if err := m.Leave(context.Background()); err != nil {
		log.Printf("VOICE: close: %v", err)
	}
}
