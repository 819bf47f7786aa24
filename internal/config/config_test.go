package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.RedactThreshold != 0.4 {
		t.Fatalf("expected default redact threshold 0.4, got %v", cfg.RedactThreshold)
	}
	if cfg.BlockThreshold != 0.85 {
		t.Fatalf("expected default block threshold 0.85, got %v", cfg.BlockThreshold)
	}
	if cfg.ContextWindow != 10 {
		t.Fatalf("expected default context window 10, got %d", cfg.ContextWindow)
	}
	if cfg.AnalysisTimeout != 30*time.Second {
		t.Fatalf("expected default analysis timeout 30s, got %v", cfg.AnalysisTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDACT_THRESHOLD", "0.25")
	t.Setenv("BLOCK_THRESHOLD", "0.9")
	t.Setenv("CONTEXT_WINDOW", "4")
	t.Setenv("ANALYSIS_TIMEOUT", "5s")
	t.Setenv("ANALYSIS_PROVIDER", "Bedrock")

	cfg := Load()
	if cfg.RedactThreshold != 0.25 {
		t.Fatalf("redact threshold override not applied: %v", cfg.RedactThreshold)
	}
	if cfg.BlockThreshold != 0.9 {
		t.Fatalf("block threshold override not applied: %v", cfg.BlockThreshold)
	}
	if cfg.ContextWindow != 4 {
		t.Fatalf("context window override not applied: %d", cfg.ContextWindow)
	}
	if cfg.AnalysisTimeout != 5*time.Second {
		t.Fatalf("analysis timeout override not applied: %v", cfg.AnalysisTimeout)
	}
	if cfg.AnalysisProvider != "bedrock" {
		t.Fatalf("analysis provider should be normalized, got %q", cfg.AnalysisProvider)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("REDACT_THRESHOLD", "not-a-number")
	t.Setenv("WORKER_COUNT", "two")

	cfg := Load()
	if cfg.RedactThreshold != 0.4 {
		t.Fatalf("invalid float should fall back to default, got %v", cfg.RedactThreshold)
	}
	if cfg.WorkerCount != 2 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.WorkerCount)
	}
}
