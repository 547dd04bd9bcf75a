package embedding

import (
	"github.com/roomkit-live/roomkit-voice/internal/audio"
)

// Normalize converts a captured PCM buffer into float samples in [-1, 1].
func Normalize(buf *audio.Buffer) []float32 {
	samples := buf.Samples()
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Windows slices samples into overlapping extraction windows of
// segmentSec length with hopSec stride. A trailing window that would
// extend past the end of the buffer is discarded. Returns nil when the
// buffer is shorter than one segment.
func Windows(samples []float32, sampleRate int, segmentSec, hopSec float64) [][]float32 {
	segSamples := int(segmentSec * float64(sampleRate))
	hopSamples := int(hopSec * float64(sampleRate))
	if segSamples <= 0 || hopSamples <= 0 {
		return nil
	}

	var windows [][]float32
	for offset := 0; offset+segSamples <= len(samples); offset += hopSamples {
		windows = append(windows, samples[offset:offset+segSamples])
	}
	return windows
}
