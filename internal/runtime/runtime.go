package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomkit-live/roomkit-voice/internal/audio"
	"github.com/roomkit-live/roomkit-voice/internal/bus"
	"github.com/roomkit-live/roomkit-voice/internal/config"
	"github.com/roomkit-live/roomkit-voice/internal/embedding"
	"github.com/roomkit-live/roomkit-voice/internal/enroll"
	"github.com/roomkit-live/roomkit-voice/internal/history"
	"github.com/roomkit-live/roomkit-voice/internal/natsserver"
	"github.com/roomkit-live/roomkit-voice/internal/profile"
)

// Runtime owns the daemon's long-lived resources: recorder, extractor,
// profile store, history log, optional bus, and the HTTP surface the
// UI shell talks to.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient *bus.Client
	profiles  *profile.Store
	attempts  *history.Store
	enroll    *enroll.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			embedded, err = natsserver.Start(busCfg, r.logger)
			if err != nil {
				return fmt.Errorf("failed to start embedded bus: %w", err)
			}
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}

	r.attempts, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	r.profiles, err = profile.Open(r.cfg.Profiles.Directory, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}

	recorder, err := newRecorder(r.cfg.Capture, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	defer func() {
		if cerr := recorder.Close(); cerr != nil {
			r.logger.Warn("recorder close error", slog.String("error", cerr.Error()))
		}
	}()

	extractor, err := newExtractor(r.cfg.Extractor)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	defer func() {
		if cerr := extractor.Close(); cerr != nil {
			r.logger.Warn("extractor close error", slog.String("error", cerr.Error()))
		}
	}()

	r.enroll = enroll.NewService(r.cfg.Enroll, r.cfg.Capture.SampleRate,
		recorder, extractor, r.busClient, r.attempts, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := r.attempts.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func newRecorder(cfg config.CaptureConfig, logger *slog.Logger) (audio.Recorder, error) {
	switch cfg.Mode {
	case "mock":
		rec := audio.NewMockRecorder(0.5, 440)
		rec.BlockMS = cfg.BlockMS
		return rec, nil
	default:
		return audio.NewPortAudioRecorder(cfg.BlockMS, logger)
	}
}

func newExtractor(cfg config.ExtractorConfig) (embedding.Extractor, error) {
	switch cfg.Mode {
	case "exec":
		return embedding.NewExecExtractor(cfg)
	default:
		return embedding.NewMockExtractor(cfg.Dimension), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
