package embedding

import (
	"testing"

	"github.com/roomkit-live/roomkit-voice/internal/audio"
)

func TestNormalize(t *testing.T) {
	rec := audio.NewMockRecorder(1.0, 440)
	buf, err := rec.Record(1.0, 16000, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	samples := Normalize(buf)
	if len(samples) != buf.SampleCount() {
		t.Fatalf("expected %d float samples, got %d", buf.SampleCount(), len(samples))
	}
	for i, v := range samples {
		if v < -1.0 || v > 1.0 {
			t.Fatalf("sample %d out of range: %v", i, v)
		}
	}

	raw := buf.Samples()
	for i := range raw {
		want := float32(raw[i]) / 32768.0
		if samples[i] != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, samples[i])
		}
	}
}

func TestWindowsCount(t *testing.T) {
	const rate = 16000
	cases := []struct {
		name       string
		totalSec   float64
		segmentSec float64
		hopSec     float64
		want       int
	}{
		{"ten seconds default windows", 10, 3, 2, 4},
		{"exact single segment", 3, 3, 2, 1},
		{"shorter than one segment", 2, 3, 2, 0},
		{"no overlap", 9, 3, 3, 3},
		{"dense hop", 5, 2, 1, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			samples := make([]float32, int(tc.totalSec*rate))
			windows := Windows(samples, rate, tc.segmentSec, tc.hopSec)
			if len(windows) != tc.want {
				t.Fatalf("expected %d windows, got %d", tc.want, len(windows))
			}
			segSamples := int(tc.segmentSec * rate)
			for i, w := range windows {
				if len(w) != segSamples {
					t.Fatalf("window %d: expected %d samples, got %d", i, segSamples, len(w))
				}
			}
		})
	}
}

func TestWindowsOffsets(t *testing.T) {
	const rate = 16000
	samples := make([]float32, 10*rate)
	// Mark each second so window origins are identifiable.
	for sec := 0; sec < 10; sec++ {
		samples[sec*rate] = float32(sec+1) / 100.0
	}

	windows := Windows(samples, rate, 3, 2)
	if len(windows) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(windows))
	}
	for i, w := range windows {
		wantMark := float32(i*2+1) / 100.0
		if w[0] != wantMark {
			t.Fatalf("window %d starts at wrong offset: mark %v, expected %v", i, w[0], wantMark)
		}
	}
}

func TestMockExtractorReadiness(t *testing.T) {
	ext := NewMockExtractor(192)
	t.Cleanup(func() { _ = ext.Close() })

	t.Run("quiet input is not ready", func(t *testing.T) {
		s := ext.CreateStream()
		s.AcceptWaveform(16000, make([]float32, 16000))
		s.InputFinished()
		if ext.IsReady(s) {
			t.Fatal("expected silent stream to be not ready")
		}
	})

	t.Run("short input is not ready", func(t *testing.T) {
		s := ext.CreateStream()
		w := make([]float32, 1000)
		for i := range w {
			w[i] = 0.5
		}
		s.AcceptWaveform(16000, w)
		s.InputFinished()
		if ext.IsReady(s) {
			t.Fatal("expected short stream to be not ready")
		}
	})

	t.Run("unfinished input is not ready", func(t *testing.T) {
		s := ext.CreateStream()
		w := make([]float32, 16000)
		for i := range w {
			w[i] = 0.5
		}
		s.AcceptWaveform(16000, w)
		if ext.IsReady(s) {
			t.Fatal("expected unfinished stream to be not ready")
		}
	})

	t.Run("loud full-length input computes fixed dimension", func(t *testing.T) {
		s := ext.CreateStream()
		w := make([]float32, 16000)
		for i := range w {
			w[i] = 0.5
		}
		s.AcceptWaveform(16000, w)
		s.InputFinished()
		if !ext.IsReady(s) {
			t.Fatal("expected stream to be ready")
		}
		vec, err := ext.Compute(s)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if len(vec) != ext.Dimension() {
			t.Fatalf("expected %d-dim vector, got %d", ext.Dimension(), len(vec))
		}
	})
}
