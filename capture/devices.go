package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// Track is one live local device track. A closed track cannot be resumed.
type Track interface {
	webrtc.TrackLocal
	Close() error
	// OnEnded registers a handler for the device ending the track on its
	// own, e.g. the operator stopping a display capture.
	OnEnded(handler func(error))
}

// Devices acquires fresh device tracks. Display may return a nil audio track.
type Devices interface {
	Camera(ctx context.Context) (Track, error)
	Microphone(ctx context.Context) (Track, error)
	Display(ctx context.Context) (video Track, audio Track, err error)
}

var ErrNoTrack = errors.New("device returned no track")

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate float64
}

// MediaDevices acquires tracks through pion/mediadevices. Drivers are
// registered by the importing binary.
type MediaDevices struct {
	codecs  *mediadevices.CodecSelector
	camera  VideoConstraints
	display VideoConstraints
}

func NewMediaDevices(camera, display VideoConstraints) (*MediaDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("cannot create vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("cannot create opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &MediaDevices{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		camera:  camera,
		display: display,
	}, nil
}

func (c VideoConstraints) apply(mtc *mediadevices.MediaTrackConstraints) {
	if c.Width > 0 {
		mtc.Width = prop.Int(c.Width)
	}
	if c.Height > 0 {
		mtc.Height = prop.Int(c.Height)
	}
	if c.FrameRate > 0 {
		mtc.FrameRate = prop.Float(c.FrameRate)
	}
}

func (d *MediaDevices) Camera(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: d.camera.apply,
		Codec: d.codecs,
	})
	if err != nil {
		return nil, notice.Wrap(notice.KindDevice, "camera", "cannot acquire camera: %w", err)
	}
	return firstTrack(stream.GetVideoTracks(), "camera")
}

func (d *MediaDevices) Microphone(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.ChannelCount = prop.Int(1)
			c.SampleRate = prop.Int(48000)
		},
		Codec: d.codecs,
	})
	if err != nil {
		return nil, notice.Wrap(notice.KindDevice, "microphone", "cannot acquire microphone: %w", err)
	}
	return firstTrack(stream.GetAudioTracks(), "microphone")
}

// Display captures the screen. Display capture carries no audio here.
func (d *MediaDevices) Display(ctx context.Context) (Track, Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: d.display.apply,
		Codec: d.codecs,
	})
	if err != nil {
		return nil, nil, notice.Wrap(notice.KindDevice, "display", "cannot capture display: %w", err)
	}
	video, err := firstTrack(stream.GetVideoTracks(), "display")
	return video, nil, err
}

func firstTrack(tracks []mediadevices.Track, op string) (Track, error) {
	if len(tracks) == 0 {
		return nil, notice.New(notice.KindDevice, op, ErrNoTrack)
	}
	for _, extra := range tracks[1:] {
		if err := extra.Close(); err != nil {
			log.WithError(err).Warn("cannot close extra track")
		}
	}
	return tracks[0], nil
}
