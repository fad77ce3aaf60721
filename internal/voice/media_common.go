package voice

import (
	"log"

	"github.com/pion/webrtc/v4"
)

// peerConfig is the PeerConnection configuration shared by both platform
// media paths.
func peerConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// addRecvOnlyAudio adds a recvonly audio transceiver so CreateOffer and
// CreateAnswer always produce a valid m-line with ICE credentials, even
// when no local capture is attached.
func addRecvOnlyAudio(channelID string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("VOICE [%s]: AddTransceiver(audio) error: %v", channelID, err)
	}
}
