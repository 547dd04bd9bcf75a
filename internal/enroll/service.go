// Package enroll coordinates voice enrollment: capture, windowing and
// embedding extraction run on a bounded worker pool so the calling
// loop stays responsive.
package enroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roomkit-live/roomkit-voice/internal/audio"
	"github.com/roomkit-live/roomkit-voice/internal/bus"
	"github.com/roomkit-live/roomkit-voice/internal/config"
	"github.com/roomkit-live/roomkit-voice/internal/embedding"
	"github.com/roomkit-live/roomkit-voice/internal/history"
	"github.com/roomkit-live/roomkit-voice/internal/protocol"
)

// ValidationError reports a recording the extractor could not use.
// Recoverable: the user may simply re-record.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Options controls a single enrollment run. Zero values fall back to
// the configured defaults.
type Options struct {
	SessionID string
	Duration  float64
	Progress  audio.ProgressFunc
}

// MultiOptions adds sliding-window parameters for multi-embedding runs.
type MultiOptions struct {
	Options
	SegmentSec float64
	HopSec     float64
}

// Service drives capture and extraction. Construct once at startup
// with the recorder and extractor it should own for its lifetime.
type Service struct {
	cfg        config.EnrollConfig
	sampleRate int
	recorder   audio.Recorder
	extractor  embedding.Extractor
	bus        *bus.Client
	history    *history.Store
	log        *slog.Logger
	workers    chan struct{}

	attempts metric.Int64Counter
	windows  metric.Int64Counter
}

func NewService(cfg config.EnrollConfig, sampleRate int, recorder audio.Recorder,
	extractor embedding.Extractor, busClient *bus.Client, hist *history.Store,
	log *slog.Logger) *Service {

	s := &Service{
		cfg:        cfg,
		sampleRate: sampleRate,
		recorder:   recorder,
		extractor:  extractor,
		bus:        busClient,
		history:    hist,
		log:        log.With(slog.String("component", "enroll")),
		workers:    make(chan struct{}, cfg.MaxConcurrency),
	}

	meter := otel.Meter("github.com/roomkit-live/roomkit-voice/internal/enroll")
	var err error
	if s.attempts, err = meter.Int64Counter("enrollment_attempts_total"); err != nil {
		s.log.Warn("failed to create attempts counter", slog.String("error", err.Error()))
	}
	if s.windows, err = meter.Int64Counter("enrollment_windows_extracted_total"); err != nil {
		s.log.Warn("failed to create windows counter", slog.String("error", err.Error()))
	}
	return s
}

// Dimension returns the embedding length produced by the extractor.
func (s *Service) Dimension() int {
	return s.extractor.Dimension()
}

// RecordAndExtract captures one buffer and extracts a single embedding
// from it. The context is honored while waiting for a worker slot; the
// capture itself always runs for the full requested duration.
func (s *Service) RecordAndExtract(ctx context.Context, opts Options) ([]float32, error) {
	opts = s.withDefaults(opts)

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer release()
		vec, err := s.runSingle(opts)
		done <- result{vec: vec, err: err}
	}()

	r := <-done
	return r.vec, r.err
}

// RecordAndExtractMulti captures one buffer and extracts an embedding
// per overlapping window. Windows the extractor rejects are skipped;
// the call fails only when no window yields an embedding.
func (s *Service) RecordAndExtractMulti(ctx context.Context, opts MultiOptions) ([][]float32, error) {
	opts.Options = s.withDefaults(opts.Options)
	if opts.SegmentSec <= 0 {
		opts.SegmentSec = s.cfg.SegmentSec
	}
	if opts.HopSec <= 0 {
		opts.HopSec = s.cfg.HopSec
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	type result struct {
		vecs [][]float32
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer release()
		vecs, err := s.runMulti(opts)
		done <- result{vecs: vecs, err: err}
	}()

	r := <-done
	return r.vecs, r.err
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Duration <= 0 {
		opts.Duration = s.cfg.DefaultDuration
	}
	return opts
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.workers <- struct{}{}:
		return func() { <-s.workers }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) runSingle(opts Options) ([]float32, error) {
	buf, err := s.recorder.Record(opts.Duration, s.sampleRate, s.progressRelay(opts))
	if err != nil {
		s.finish(opts.SessionID, "single", opts.Duration, 0, 0, err)
		return nil, err
	}

	stream := s.extractor.CreateStream()
	stream.AcceptWaveform(buf.SampleRate, embedding.Normalize(buf))
	stream.InputFinished()

	if !s.extractor.IsReady(stream) {
		err := &ValidationError{Reason: "recording too short or too quiet"}
		s.finish(opts.SessionID, "single", opts.Duration, 1, 0, err)
		return nil, err
	}

	vec, err := s.extractor.Compute(stream)
	if err != nil {
		err = fmt.Errorf("compute embedding: %w", err)
		s.finish(opts.SessionID, "single", opts.Duration, 1, 0, err)
		return nil, err
	}

	s.finish(opts.SessionID, "single", opts.Duration, 1, 1, nil)
	return vec, nil
}

func (s *Service) runMulti(opts MultiOptions) ([][]float32, error) {
	buf, err := s.recorder.Record(opts.Duration, s.sampleRate, s.progressRelay(opts.Options))
	if err != nil {
		s.finish(opts.SessionID, "multi", opts.Duration, 0, 0, err)
		return nil, err
	}

	samples := embedding.Normalize(buf)
	windows := embedding.Windows(samples, buf.SampleRate, opts.SegmentSec, opts.HopSec)

	var vecs [][]float32
	for i, window := range windows {
		stream := s.extractor.CreateStream()
		stream.AcceptWaveform(buf.SampleRate, window)
		stream.InputFinished()

		if !s.extractor.IsReady(stream) {
			s.log.Info("skipping unusable window",
				slog.String("session_id", opts.SessionID),
				slog.Int("window", i),
				slog.Float64("offset_sec", float64(i)*opts.HopSec))
			continue
		}

		vec, err := s.extractor.Compute(stream)
		if err != nil {
			err = fmt.Errorf("compute embedding for window %d: %w", i, err)
			s.finish(opts.SessionID, "multi", opts.Duration, len(windows), len(vecs), err)
			return nil, err
		}
		vecs = append(vecs, vec)
		s.log.Info("extracted embedding",
			slog.String("session_id", opts.SessionID),
			slog.Int("count", len(vecs)),
			slog.Float64("offset_sec", float64(i)*opts.HopSec))
	}

	if len(vecs) == 0 {
		err := &ValidationError{Reason: "could not extract any embeddings from recording"}
		s.finish(opts.SessionID, "multi", opts.Duration, len(windows), 0, err)
		return nil, err
	}

	s.finish(opts.SessionID, "multi", opts.Duration, len(windows), len(vecs), nil)
	s.log.Info("enrollment complete",
		slog.String("session_id", opts.SessionID),
		slog.Int("embeddings", len(vecs)),
		slog.Float64("duration_sec", opts.Duration))
	return vecs, nil
}

// progressRelay fans capture progress out to the caller's sink and the
// bus. Both run on the capture goroutine, never the caller's.
func (s *Service) progressRelay(opts Options) audio.ProgressFunc {
	return func(fraction float64) {
		if opts.Progress != nil {
			opts.Progress(fraction)
		}
		s.publish(protocol.SubjectEnrollProgress, protocol.EnrollmentProgress{
			SessionID: opts.SessionID,
			Fraction:  fraction,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *Service) finish(sessionID, mode string, duration float64, attempted, extracted int, err error) {
	outcome := outcomeFor(err)

	if s.attempts != nil {
		s.attempts.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("mode", mode),
				attribute.String("outcome", outcome)))
	}
	if s.windows != nil && extracted > 0 {
		s.windows.Add(context.Background(), int64(extracted))
	}

	attempt := history.Attempt{
		SessionID:        sessionID,
		Mode:             mode,
		DurationSec:      duration,
		WindowsAttempted: attempted,
		WindowsExtracted: extracted,
		Outcome:          outcome,
	}
	if err != nil {
		attempt.Detail = err.Error()
	}
	if s.history != nil {
		if herr := s.history.Append(context.Background(), attempt); herr != nil {
			s.log.Warn("failed to record enrollment attempt", slog.String("error", herr.Error()))
		}
	}

	result := protocol.EnrollmentResult{
		SessionID:  sessionID,
		Mode:       mode,
		Embeddings: extracted,
		Dimension:  s.extractor.Dimension(),
		Outcome:    outcome,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	s.publish(protocol.SubjectEnrollResult, result)
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isDeviceError(err):
		return "device_error"
	case isValidationError(err):
		return "validation_error"
	default:
		return "error"
	}
}

func isDeviceError(err error) bool {
	var de *audio.DeviceError
	return errors.As(err, &de)
}

func isValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (s *Service) publish(subject string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal bus message", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish bus message",
			slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
