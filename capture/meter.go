package capture

import (
	"math"
	"sync"

	"github.com/Connect-Club/connectclub-meet-common/volatile"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/wave"
	log "github.com/sirupsen/logrus"
)

// AudioMeter keeps the RMS level of the latest chunk read from the attached
// microphone track, in [0, 1].
type AudioMeter struct {
	level *volatile.Value[float64]

	mu         sync.Mutex
	generation uint64
}

func NewAudioMeter() *AudioMeter {
	return &AudioMeter{level: volatile.NewValue(0.0)}
}

func (m *AudioMeter) Level() float64 {
	return m.level.Load()
}

// Attach starts metering track. Tracks that expose no raw audio are
// ignored. The reader stops when the track is closed.
func (m *AudioMeter) Attach(track Track) {
	m.mu.Lock()
	m.generation++
	generation := m.generation
	m.mu.Unlock()
	m.level.Store(0)

	audioTrack, ok := track.(*mediadevices.AudioTrack)
	if !ok {
		return
	}
	reader, err := audioTrack.NewReader(false)
	if err != nil {
		log.WithError(err).Warn("cannot read microphone for metering")
		return
	}
	go func() {
		for {
			chunk, release, err := reader.Read()
			if err != nil {
				return
			}
			level := RMS(chunk)
			release()
			if !m.current(generation) {
				return
			}
			m.level.Store(level)
		}
	}()
}

// Detach stops publishing levels of the attached track.
func (m *AudioMeter) Detach() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
	m.level.Store(0)
}

func (m *AudioMeter) current(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == generation
}

// RMS is the root mean square of every sample of chunk, normalized to [0, 1].
func RMS(chunk wave.Audio) float64 {
	if chunk == nil {
		return 0
	}
	var sum float64
	var n int
	switch a := chunk.(type) {
	case *wave.Int16Interleaved:
		for _, s := range a.Data {
			v := float64(s) / 32768
			sum += v * v
		}
		n = len(a.Data)
	case *wave.Float32Interleaved:
		for _, s := range a.Data {
			v := float64(s)
			sum += v * v
		}
		n = len(a.Data)
	default:
		info := chunk.ChunkInfo()
		for i := 0; i < info.Len; i++ {
			for ch := 0; ch < info.Channels; ch++ {
				v := float64(chunk.At(i, ch).Int()) / math.MaxInt64
				sum += v * v
			}
		}
		n = info.Len * info.Channels
	}
	if n == 0 {
		return 0
	}
	return math.Min(1, math.Sqrt(sum/float64(n)))
}
