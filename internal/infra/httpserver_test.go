package infra

import (
	"net/http"
	"testing"
	"time"
)

func TestNewHTTPServerWriteTimeoutCoversPollWindow(t *testing.T) {
	cfg := &Config{
		Port:             "8080",
		HTTPWriteTimeout: 10 * time.Second,
		Jobs:             JobsConfig{PollInterval: 2 * time.Second, PollAttemptsImage: 30, PollAttemptsVideo: 60},
	}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())
	if got, want := srv.WriteTimeout(), 150*time.Second; got != want {
		t.Fatalf("WriteTimeout = %s, want %s", got, want)
	}
	if srv.Addr() != ":8080" {
		t.Fatalf("Addr = %q", srv.Addr())
	}

	cfg.HTTPWriteTimeout = 5 * time.Minute
	if got := NewHTTPServer(cfg, http.NotFoundHandler()).WriteTimeout(); got != 5*time.Minute {
		t.Fatalf("configured timeout not kept: %s", got)
	}
}

func TestRunWindowCoversSubmitRetriesAndPolling(t *testing.T) {
	cfg := &Config{
		Jobs: JobsConfig{
			SubmitAttempts:    3,
			SubmitBaseDelay:   time.Second,
			PollInterval:      2 * time.Second,
			PollAttemptsImage: 30,
			PollAttemptsVideo: 60,
		},
		Qwen: QwenConfig{Timeout: 45 * time.Second},
	}
	// 3 submits of 45s, 1s+2s backoff, 60 polls of 2s, 30s slack
	if got, want := cfg.RunWindow(), 288*time.Second; got != want {
		t.Fatalf("RunWindow = %s, want %s", got, want)
	}
	if got := NewHTTPServer(cfg, http.NotFoundHandler()).WriteTimeout(); got != 288*time.Second {
		t.Fatalf("WriteTimeout = %s", got)
	}
}
