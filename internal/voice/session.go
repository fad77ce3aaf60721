package voice

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/harborchat/harbor/internal/transport"
)

// offerDelay is the grace period between local media setup and sending the
// OFFER, giving ICE gathering time to start and a simultaneously-joining
// peer's OFFER time to arrive. First offer wins: if a remote OFFER lands
// inside the window, this side answers instead of offering. Two peers whose
// offers cross the wire anyway each ignore the second OFFER they see; if
// both sides skip offering the race is lost and no connection forms.
const offerDelay = 2 * time.Second

// Session is one peer-to-peer audio session on a joined voice channel. It
// owns the peer connection and the local capture exclusively; the transport
// is used purely as a signaling relay.
type Session struct {
	channelID string
	self      Identity
	sig       Signaler

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	stopMedia     func()
	senders       []mediaSender
	offerReceived bool
	remoteSet     bool
	pendingICE    []transport.ICECandidateInit
	muted         bool
	status        string
	closed        bool

	participants []string

	webrtcSub *transport.Subscription
	voiceSub  *transport.Subscription
}

// mediaSender pairs an RTP sender with the capture track it carries, so
// mute can detach and re-attach the track without renegotiation.
type mediaSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

func newSession(channelID string, self Identity, sig Signaler) *Session {
	return &Session{
		channelID: channelID,
		self:      self,
		sig:       sig,
		status:    "disconnected",
	}
}

// ChannelID returns the voice channel this session belongs to.
func (s *Session) ChannelID() string { return s.channelID }

// Status reports the current connection state, mirroring the peer
// connection's native state names once negotiation starts.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Participants returns the current server-sourced participant name list.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

// start builds the peer connection, acquires local audio, and arms the
// delayed OFFER. Media-acquisition failure aborts the whole join.
func (s *Session) start() error {
	pc, stop, senders, err := initMediaPC(s.channelID)
	if err != nil {
		return fmt.Errorf("voice media init: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.stopMedia = stop
	s.senders = senders
	s.status = "connecting"
	s.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		cand := transport.ICECandidateInit{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		s.sig.PublishSignal(s.channelID, transport.SignalMessage{
			Type:      transport.SignalICECandidate,
			Candidate: &cand,
			UserID:    s.self.UserID,
			Username:  s.self.Username,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.mu.Lock()
		if !s.closed {
			s.status = state.String()
		}
		s.mu.Unlock()
		log.Printf("VOICE [%s]: connection state %s", s.channelID, state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("VOICE [%s]: remote %s track %s", s.channelID, track.Kind(), track.ID())
		go s.drainTrack(track)
	})

	// Let ICE gathering start, and give a simultaneously-joining peer's
	// OFFER a chance to arrive first.
	time.AfterFunc(offerDelay, s.maybeOffer)

	return nil
}

// maybeOffer sends the OFFER unless a remote one already arrived or the
// session was torn down while the timer was pending.
func (s *Session) maybeOffer() {
	s.mu.Lock()
	pc := s.pc
	skip := s.closed || s.offerReceived || pc == nil
	s.mu.Unlock()
	if skip {
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		log.Printf("VOICE [%s]: create offer: %v", s.channelID, err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		log.Printf("VOICE [%s]: set local description: %v", s.channelID, err)
		return
	}

	s.sig.PublishSignal(s.channelID, transport.SignalMessage{
		Type:     transport.SignalOffer,
		SDP:      offer.SDP,
		UserID:   s.self.UserID,
		Username: s.self.Username,
	})
	log.Printf("VOICE [%s]: offer sent", s.channelID)
}

// HandleSignal dispatches one inbound signaling frame. Own echoes are
// dropped; negotiation errors are logged and never fatal — the user
// retries by leaving and rejoining.
func (s *Session) HandleSignal(sig transport.SignalMessage) {
	if sig.UserID == s.self.UserID {
		return
	}

	switch sig.Type {
	case transport.SignalOffer:
		s.handleOffer(sig)
	case transport.SignalAnswer:
		s.handleAnswer(sig)
	case transport.SignalICECandidate:
		s.handleCandidate(sig)
	case transport.SignalDisconnect:
		log.Printf("VOICE [%s]: %s disconnected", s.channelID, sig.Username)
		s.teardownPeer()
	default:
		log.Printf("VOICE [%s]: dropping signal with unknown type %q", s.channelID, sig.Type)
	}
}

func (s *Session) handleOffer(sig transport.SignalMessage) {
	s.mu.Lock()
	if s.offerReceived {
		s.mu.Unlock()
		log.Printf("VOICE [%s]: offer from %s ignored, one already accepted", s.channelID, sig.Username)
		return
	}
	pc := s.pc
	if pc == nil || s.closed {
		s.mu.Unlock()
		log.Printf("VOICE [%s]: offer from %s ignored, no peer connection", s.channelID, sig.Username)
		return
	}
	s.offerReceived = true
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sig.SDP,
	}); err != nil {
		log.Printf("VOICE [%s]: set remote offer: %v", s.channelID, err)
		return
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("VOICE [%s]: create answer: %v", s.channelID, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Printf("VOICE [%s]: set local answer: %v", s.channelID, err)
		return
	}

	s.sig.PublishSignal(s.channelID, transport.SignalMessage{
		Type:     transport.SignalAnswer,
		SDP:      answer.SDP,
		UserID:   s.self.UserID,
		Username: s.self.Username,
	})
	log.Printf("VOICE [%s]: answered offer from %s", s.channelID, sig.Username)
}

func (s *Session) handleAnswer(sig transport.SignalMessage) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		log.Printf("VOICE [%s]: answer ignored, no peer connection", s.channelID)
		return
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sig.SDP,
	}); err != nil {
		log.Printf("VOICE [%s]: set remote answer: %v", s.channelID, err)
		return
	}
	s.flushCandidates(pc)
}

// handleCandidate adds a trickle ICE candidate, queueing it when it
// arrives before the remote description is set.
func (s *Session) handleCandidate(sig transport.SignalMessage) {
	if sig.Candidate == nil {
		return
	}

	s.mu.Lock()
	pc := s.pc
	if pc == nil {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		s.pendingICE = append(s.pendingICE, *sig.Candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := pc.AddICECandidate(candidateInit(*sig.Candidate)); err != nil {
		log.Printf("VOICE [%s]: add ice candidate: %v", s.channelID, err)
	}
}

// flushCandidates marks the remote description as set and adds every
// candidate that arrived early.
func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.remoteSet = true
	queued := s.pendingICE
	s.pendingICE = nil
	s.mu.Unlock()

	for _, cand := range queued {
		if err := pc.AddICECandidate(candidateInit(cand)); err != nil {
			log.Printf("VOICE [%s]: add queued ice candidate: %v", s.channelID, err)
		}
	}
}

func candidateInit(c transport.ICECandidateInit) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return init
}

// HandleMembership applies a join/leave event to the participant list.
// Presentation state only — it never gates negotiation.
func (s *Session) HandleMembership(mm transport.MembershipMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mm.Event {
	case transport.MemberJoined:
		for _, name := range s.participants {
			if name == mm.Username {
				return
			}
		}
		s.participants = append(s.participants, mm.Username)
	case transport.MemberLeft:
		for i, name := range s.participants {
			if name == mm.Username {
				s.participants = append(s.participants[:i], s.participants[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) setParticipants(names []string) {
	s.mu.Lock()
	s.participants = names
	s.mu.Unlock()
}

// ToggleMute detaches or re-attaches the local audio track without
// renegotiation. Returns the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	senders := s.senders
	s.mu.Unlock()

	for _, ms := range senders {
		var err error
		if muted {
			err = ms.sender.ReplaceTrack(nil)
		} else {
			err = ms.sender.ReplaceTrack(ms.track)
		}
		if err != nil {
			log.Printf("VOICE [%s]: toggle mute: %v", s.channelID, err)
		}
	}
	log.Printf("VOICE [%s]: muted=%v", s.channelID, muted)
	return muted
}

// teardownPeer closes the peer connection and local media and resets the
// negotiation guards, leaving subscriptions and membership registration
// intact. Used on remote DISCONNECT: the other side already left, there is
// nothing to notify.
func (s *Session) teardownPeer() {
	s.mu.Lock()
	pc := s.pc
	stop := s.stopMedia
	s.pc = nil
	s.stopMedia = nil
	s.senders = nil
	s.offerReceived = false
	s.remoteSet = false
	s.pendingICE = nil
	if !s.closed {
		// close() already set the terminal status.
		s.status = "disconnected"
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if pc != nil {
		_ = pc.Close()
	}
}

// close is the full local teardown: DISCONNECT notification, peer and
// media shutdown, subscription release. Idempotent.
func (s *Session) close(notify bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = "closed"
	webrtcSub := s.webrtcSub
	voiceSub := s.voiceSub
	s.mu.Unlock()

	if notify {
		s.sig.PublishSignal(s.channelID, transport.SignalMessage{
			Type:     transport.SignalDisconnect,
			UserID:   s.self.UserID,
			Username: s.self.Username,
		})
	}

	s.teardownPeer()

	if webrtcSub != nil {
		webrtcSub.Unsubscribe()
	}
	if voiceSub != nil {
		voiceSub.Unsubscribe()
	}
	log.Printf("VOICE [%s]: session closed", s.channelID)
}

// drainTrack reads inbound RTP until the track ends. Playback is a UI
// concern; the core only keeps the pipeline flowing and accounts for loss.
func (s *Session) drainTrack(track *webrtc.TrackRemote) {
	var stats rtpStats
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if stats.received > 0 {
				log.Printf("VOICE [%s]: track %s ended after %d packets (%d lost)",
					s.channelID, track.ID(), stats.received, stats.lost)
			}
			return
		}
		stats.record(pkt)
	}
}

// rtpStats tracks packet and sequence-gap counts for one remote track.
type rtpStats struct {
	received uint64
	lost     uint64
	lastSeq  uint16
	started  bool
}

func (st *rtpStats) record(pkt *rtp.Packet) {
	st.received++
	if st.started {
		// Sequence numbers wrap at 65535; the unsigned difference handles it.
		if gap := pkt.SequenceNumber - st.lastSeq; gap > 1 && gap < 1<<15 {
			st.lost += uint64(gap - 1)
		}
	}
	st.lastSeq = pkt.SequenceNumber
	st.started = true
}
