package enroll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/roomkit-live/roomkit-voice/internal/audio"
	"github.com/roomkit-live/roomkit-voice/internal/config"
	"github.com/roomkit-live/roomkit-voice/internal/embedding"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newService(t *testing.T, rec audio.Recorder) *Service {
	t.Helper()
	cfg := config.EnrollConfig{
		DefaultDuration: 10.0,
		SegmentSec:      3.0,
		HopSec:          2.0,
		MaxConcurrency:  1,
	}
	ext := embedding.NewMockExtractor(192)
	t.Cleanup(func() { _ = ext.Close() })
	return NewService(cfg, 16000, rec, ext, nil, nil, newLogger())
}

func TestRecordAndExtract(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	vec, err := s.RecordAndExtract(context.Background(), Options{Duration: 10.0})
	if err != nil {
		t.Fatalf("record and extract: %v", err)
	}
	if len(vec) != s.Dimension() {
		t.Fatalf("expected %d-dim embedding, got %d", s.Dimension(), len(vec))
	}
}

func TestRecordAndExtractTooShort(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	_, err := s.RecordAndExtract(context.Background(), Options{Duration: 0.2})
	if err == nil {
		t.Fatal("expected validation error for too-short recording")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if ve.Reason != "recording too short or too quiet" {
		t.Fatalf("unexpected reason: %q", ve.Reason)
	}
}

func TestRecordAndExtractTooQuiet(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0, 440))

	_, err := s.RecordAndExtract(context.Background(), Options{Duration: 2.0})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for silent recording, got %v", err)
	}
}

func TestRecordAndExtractDeviceError(t *testing.T) {
	rec := audio.NewMockRecorder(0.5, 440)
	rec.Fail = errors.New("no default input device")
	s := newService(t, rec)

	_, err := s.RecordAndExtract(context.Background(), Options{Duration: 2.0})
	var de *audio.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeviceError, got %T: %v", err, err)
	}
}

func TestRecordAndExtractMulti(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	// 10s at 3s segments with 2s hop: offsets 0,2,4,6 qualify, 8 does not.
	vecs, err := s.RecordAndExtractMulti(context.Background(), MultiOptions{
		Options:    Options{Duration: 10.0},
		SegmentSec: 3.0,
		HopSec:     2.0,
	})
	if err != nil {
		t.Fatalf("record and extract multi: %v", err)
	}
	if len(vecs) != 4 {
		t.Fatalf("expected 4 embeddings, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != s.Dimension() {
			t.Fatalf("embedding %d: expected dimension %d, got %d", i, s.Dimension(), len(v))
		}
	}
}

func TestRecordAndExtractMultiDefaults(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	// Zero options fall back to configured duration/segment/hop.
	vecs, err := s.RecordAndExtractMulti(context.Background(), MultiOptions{})
	if err != nil {
		t.Fatalf("record and extract multi: %v", err)
	}
	if len(vecs) != 4 {
		t.Fatalf("expected 4 embeddings with defaults, got %d", len(vecs))
	}
}

func TestRecordAndExtractMultiNoUsableWindows(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0, 440))

	_, err := s.RecordAndExtractMulti(context.Background(), MultiOptions{
		Options: Options{Duration: 10.0},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if ve.Reason != "could not extract any embeddings from recording" {
		t.Fatalf("unexpected reason: %q", ve.Reason)
	}
}

func TestRecordAndExtractMultiShorterThanSegment(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	_, err := s.RecordAndExtractMulti(context.Background(), MultiOptions{
		Options:    Options{Duration: 2.0},
		SegmentSec: 3.0,
		HopSec:     2.0,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError when buffer is shorter than one segment, got %v", err)
	}
}

func TestProgressRelayMonotonic(t *testing.T) {
	s := newService(t, audio.NewMockRecorder(0.5, 440))

	var mu sync.Mutex
	var fractions []float64
	_, err := s.RecordAndExtract(context.Background(), Options{
		Duration: 2.0,
		Progress: func(f float64) {
			mu.Lock()
			fractions = append(fractions, f)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("record and extract: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fractions) == 0 {
		t.Fatal("expected progress callbacks")
	}
	prev := 0.0
	for i, f := range fractions {
		if f < prev {
			t.Fatalf("progress went backwards at %d: %v -> %v", i, prev, f)
		}
		prev = f
	}
}

// blockingRecorder parks until released so tests can hold a worker slot.
type blockingRecorder struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRecorder) Record(duration float64, sampleRate int, progress audio.ProgressFunc) (*audio.Buffer, error) {
	close(b.started)
	<-b.release
	return audio.NewMockRecorder(0.5, 440).Record(duration, sampleRate, progress)
}

func (b *blockingRecorder) Close() error { return nil }

func TestWorkerPoolHonorsContextWhileQueued(t *testing.T) {
	rec := &blockingRecorder{started: make(chan struct{}), release: make(chan struct{})}
	s := newService(t, rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RecordAndExtract(context.Background(), Options{Duration: 1.0})
	}()
	<-rec.started

	// Pool is size 1 and busy; a queued request must honor cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RecordAndExtract(ctx, Options{Duration: 1.0})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while queued, got %v", err)
	}

	close(rec.release)
	<-done
}
