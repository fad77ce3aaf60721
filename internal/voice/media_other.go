//go:build !linux

package voice

import (
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// initMediaPC creates a receive-only peer connection on non-Linux
// platforms. Microphone capture via pion/mediadevices needs
// platform-specific drivers that are only wired for Linux; elsewhere the
// session still negotiates and receives remote audio.
func initMediaPC(channelID string) (*webrtc.PeerConnection, func(), []mediaSender, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(peerConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	addRecvOnlyAudio(channelID, pc)

	log.Printf("VOICE [%s]: peer connection ready (receive-only, no local capture on this platform)", channelID)
	return pc, func() {}, nil, nil
}
