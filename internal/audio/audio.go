package audio

import (
	"encoding/binary"
	"fmt"
)

// ProgressFunc receives the capture completion fraction in [0, 1].
// It is invoked from the capture goroutine after every block; receivers
// must hand the value off safely before touching their own state.
type ProgressFunc func(fraction float64)

// Buffer holds captured 16-bit signed little-endian mono PCM.
// Immutable once returned by a Recorder.
type Buffer struct {
	PCM        []byte
	SampleRate int
}

// SampleCount returns the number of 16-bit samples in the buffer.
func (b *Buffer) SampleCount() int {
	return len(b.PCM) / 2
}

// Samples decodes the PCM payload into int16 samples.
func (b *Buffer) Samples() []int16 {
	out := make([]int16, b.SampleCount())
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b.PCM[i*2:]))
	}
	return out
}

// Recorder captures a fixed-duration buffer from an input device.
//
// Record blocks for the full requested duration; there is no cancellation
// hook once capture has started. Callers that need a responsive loop must
// run Record off their scheduling context.
type Recorder interface {
	Record(duration float64, sampleRate int, progress ProgressFunc) (*Buffer, error)
	Close() error
}

// DeviceError indicates the input device is unavailable or failed.
// It is fatal for the current capture and is never retried automatically.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device: %v", e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func validateRequest(duration float64, sampleRate int) error {
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return nil
}

// targetFrames returns the exact sample count a capture must deliver.
func targetFrames(duration float64, sampleRate int) int {
	return int(duration * float64(sampleRate))
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
