//go:build linux

package voice

import (
	"fmt"
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

// initMediaPC creates the peer connection with an Opus codec and captures
// the local microphone via pion/mediadevices (malgo on Linux). Returns the
// PC, a cleanup func stopping the capture tracks, and the sender/track
// pairs used for mute toggling.
//
// Capture failure aborts the join: voice without a microphone is a
// configuration problem the user has to fix, not something to limp through.
func initMediaPC(channelID string) (*webrtc.PeerConnection, func(), []mediaSender, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

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

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		_ = pc.Close()
		return nil, nil, nil, fmt.Errorf("microphone capture: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		_ = pc.Close()
		return nil, nil, nil, fmt.Errorf("microphone capture: no audio track")
	}

	var senders []mediaSender
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, nil, nil, fmt.Errorf("attach audio track: %w", err)
		}
		senders = append(senders, mediaSender{sender: sender, track: track})
	}

	stop := func() {
		for _, track := range tracks {
			_ = track.Close()
		}
	}

	log.Printf("VOICE [%s]: peer connection ready, %d local audio track(s)", channelID, len(senders))
	return pc, stop, senders, nil
}
