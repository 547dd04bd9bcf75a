package audio

import (
	"math"
)

// MockRecorder synthesizes a sine tone instead of touching a device.
// Amplitude is in [0, 1]; zero produces silence.
type MockRecorder struct {
	Amplitude float64
	FreqHz    float64
	BlockMS   int

	// Fail, when set, is returned from Record wrapped in a DeviceError.
	Fail error
}

func NewMockRecorder(amplitude, freqHz float64) *MockRecorder {
	return &MockRecorder{Amplitude: amplitude, FreqHz: freqHz, BlockMS: 100}
}

func (m *MockRecorder) Record(duration float64, sampleRate int, progress ProgressFunc) (*Buffer, error) {
	if err := validateRequest(duration, sampleRate); err != nil {
		return nil, err
	}
	if m.Fail != nil {
		return nil, &DeviceError{Err: m.Fail}
	}

	blockMS := m.BlockMS
	if blockMS <= 0 {
		blockMS = 100
	}
	frames := targetFrames(duration, sampleRate)
	blockSize := sampleRate * blockMS / 1000

	recorded := make([]int16, 0, frames+blockSize)
	for len(recorded) < frames {
		base := len(recorded)
		for i := 0; i < blockSize; i++ {
			v := m.Amplitude * math.Sin(2*math.Pi*m.FreqHz*float64(base+i)/float64(sampleRate))
			recorded = append(recorded, int16(v*32767))
		}
		if progress != nil {
			progress(min(float64(len(recorded))/float64(frames), 1.0))
		}
	}
	recorded = recorded[:frames]

	return &Buffer{PCM: pcmBytes(recorded), SampleRate: sampleRate}, nil
}

func (m *MockRecorder) Close() error {
	return nil
}
