package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Capture.BlockMS != 100 {
		t.Fatalf("expected default block 100ms, got %d", cfg.Capture.BlockMS)
	}
	if cfg.Enroll.SegmentSec != 3.0 || cfg.Enroll.HopSec != 2.0 {
		t.Fatalf("unexpected default windowing: %v/%v", cfg.Enroll.SegmentSec, cfg.Enroll.HopSec)
	}
	if cfg.Profiles.Directory == "" {
		t.Fatal("expected non-empty default profiles directory")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROOMKIT_CAPTURE_MODE", "mock")
	t.Setenv("ROOMKIT_CAPTURE_SAMPLE_RATE", "8000")
	t.Setenv("ROOMKIT_EXTRACTOR_MODE", "exec")
	t.Setenv("ROOMKIT_EXTRACTOR_COMMAND", "speaker-embed --json")
	t.Setenv("ROOMKIT_EXTRACTOR_NUM_THREADS", "4")
	t.Setenv("ROOMKIT_EXTRACTOR_PROVIDER", "cuda")
	t.Setenv("ROOMKIT_ENROLL_SEGMENT_SEC", "2.5")
	t.Setenv("ROOMKIT_ENROLL_HOP_SEC", "1.5")
	t.Setenv("ROOMKIT_PROFILES_DIRECTORY", "./tmp-speakers")
	t.Setenv("ROOMKIT_BUS_ENABLED", "true")
	t.Setenv("ROOMKIT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ROOMKIT_HISTORY_RETENTION_DAYS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Mode != "mock" {
		t.Fatalf("expected capture mode override, got %q", cfg.Capture.Mode)
	}
	if cfg.Capture.SampleRate != 8000 {
		t.Fatalf("expected sample rate 8000, got %d", cfg.Capture.SampleRate)
	}
	if cfg.Extractor.Mode != "exec" || cfg.Extractor.Command != "speaker-embed --json" {
		t.Fatalf("expected extractor overrides, got %+v", cfg.Extractor)
	}
	if cfg.Extractor.NumThreads != 4 || cfg.Extractor.Provider != "cuda" {
		t.Fatalf("expected extractor thread/provider overrides, got %+v", cfg.Extractor)
	}
	if cfg.Enroll.SegmentSec != 2.5 || cfg.Enroll.HopSec != 1.5 {
		t.Fatalf("expected windowing overrides, got %v/%v", cfg.Enroll.SegmentSec, cfg.Enroll.HopSec)
	}
	if cfg.Profiles.Directory != "./tmp-speakers" {
		t.Fatalf("expected profiles directory override, got %q", cfg.Profiles.Directory)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 bus servers, got %v", cfg.Bus.Servers)
	}
	if cfg.History.RetentionDays != 7 {
		t.Fatalf("expected retention days override, got %d", cfg.History.RetentionDays)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roomkit.yaml")
	body := []byte("capture:\n  mode: mock\n  sample_rate: 16000\nenroll:\n  default_duration_sec: 5\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.Mode != "mock" {
		t.Fatalf("expected capture mode from file, got %q", cfg.Capture.Mode)
	}
	if cfg.Enroll.DefaultDuration != 5 {
		t.Fatalf("expected duration 5, got %v", cfg.Enroll.DefaultDuration)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("ROOMKIT_EXTRACTOR_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec extractor without command")
	}
}
