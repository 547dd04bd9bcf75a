package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioRecorder captures from the default input device via PortAudio.
// Construct one at startup and share it; the PortAudio runtime is
// initialized once and released by Close.
type PortAudioRecorder struct {
	blockMS int
	log     *slog.Logger
	mu      sync.Mutex
	closed  bool
}

func NewPortAudioRecorder(blockMS int, log *slog.Logger) (*PortAudioRecorder, error) {
	if blockMS <= 0 {
		blockMS = 100
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Err: fmt.Errorf("initialize portaudio: %w", err)}
	}
	return &PortAudioRecorder{
		blockMS: blockMS,
		log:     log.With(slog.String("component", "recorder")),
	}, nil
}

func (r *PortAudioRecorder) Record(duration float64, sampleRate int, progress ProgressFunc) (*Buffer, error) {
	if err := validateRequest(duration, sampleRate); err != nil {
		return nil, err
	}

	// One capture at a time; overlapping captures on a single input
	// device are not coordinated.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, &DeviceError{Err: fmt.Errorf("recorder closed")}
	}

	frames := targetFrames(duration, sampleRate)
	block := make([]int16, sampleRate*r.blockMS/1000)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(block), block)
	if err != nil {
		return nil, &DeviceError{Err: fmt.Errorf("open default input stream: %w", err)}
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, &DeviceError{Err: fmt.Errorf("start input stream: %w", err)}
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			r.log.Warn("failed to stop input stream", slog.String("error", err.Error()))
		}
	}()

	recorded := make([]int16, 0, frames+len(block))
	for len(recorded) < frames {
		if err := stream.Read(); err != nil {
			return nil, &DeviceError{Err: fmt.Errorf("read input stream: %w", err)}
		}
		recorded = append(recorded, block...)
		if progress != nil {
			progress(min(float64(len(recorded))/float64(frames), 1.0))
		}
	}

	// The last block may overrun the requested duration; truncate to the
	// exact frame count rather than padding.
	recorded = recorded[:frames]

	r.log.Debug("capture complete",
		slog.Int("samples", frames),
		slog.Int("sample_rate", sampleRate))

	return &Buffer{PCM: pcmBytes(recorded), SampleRate: sampleRate}, nil
}

func (r *PortAudioRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return portaudio.Terminate()
}
