package infra

import (
	"os"
	"testing"
	"time"
)

// unsetEnv clears key for the duration of the test so defaults apply.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	unsetEnv(t,
		"PORT", "STORAGE_BASE_URL", "QUOTA_BACKEND", "HISTORY_BACKEND", "STORAGE_BACKEND",
		"POLL_ATTEMPTS_IMAGE", "POLL_ATTEMPTS_VIDEO", "SUBMIT_ATTEMPTS", "POLL_INTERVAL", "SUBMIT_BASE_DELAY",
		"MINIO_PUBLIC_URL",
	)
}

func TestLoadConfigDefaultStorageBaseURL(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:8080/static"
	if cfg.Storage.BaseURL != expected {
		t.Fatalf("Storage.BaseURL mismatch: got %q want %q", cfg.Storage.BaseURL, expected)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "1919")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.Storage.BaseURL != expected {
		t.Fatalf("Storage.BaseURL mismatch: got %q want %q", cfg.Storage.BaseURL, expected)
	}
}

func TestLoadConfigHonorsExplicitStorageBaseURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/static/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "https://cdn.example.com/static"
	if cfg.Storage.BaseURL != expected {
		t.Fatalf("Storage.BaseURL mismatch: got %q want %q", cfg.Storage.BaseURL, expected)
	}
}

func TestLoadConfigJobPolicyDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Jobs.SubmitAttempts != 3 {
		t.Fatalf("SubmitAttempts: got %d want 3", cfg.Jobs.SubmitAttempts)
	}
	if cfg.Jobs.SubmitBaseDelay != time.Second {
		t.Fatalf("SubmitBaseDelay: got %s want 1s", cfg.Jobs.SubmitBaseDelay)
	}
	if cfg.Jobs.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval: got %s want 2s", cfg.Jobs.PollInterval)
	}
	if cfg.Jobs.PollAttemptsImage != 30 || cfg.Jobs.PollAttemptsVideo != 60 {
		t.Fatalf("poll ceilings: got %d/%d want 30/60", cfg.Jobs.PollAttemptsImage, cfg.Jobs.PollAttemptsVideo)
	}
}

func TestLoadConfigOverridesPollCeiling(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("POLL_ATTEMPTS_IMAGE", "5")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Jobs.PollAttemptsImage != 5 {
		t.Fatalf("PollAttemptsImage: got %d want 5", cfg.Jobs.PollAttemptsImage)
	}
	if cfg.Jobs.PollInterval != 250*time.Millisecond {
		t.Fatalf("PollInterval: got %s want 250ms", cfg.Jobs.PollInterval)
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestLoadConfigDatabaseOptionalWithoutPostgresBackends(t *testing.T) {
	setBaseEnv(t)
	unsetEnv(t, "DATABASE_URL")
	t.Setenv("QUOTA_BACKEND", BackendMemory)
	t.Setenv("HISTORY_BACKEND", BackendSQLite)

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	t.Setenv("QUOTA_BACKEND", BackendPostgres)
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when postgres backend has no DATABASE_URL")
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("QUOTA_BACKEND", "etcd")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unsupported quota backend")
	}
}

func TestLoadConfigMinioRequiresPublicURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_BACKEND", "minio")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when minio has no MINIO_PUBLIC_URL")
	}

	t.Setenv("MINIO_PUBLIC_URL", "https://cdn.example.com")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Storage.MinioPublicURL != "https://cdn.example.com" {
		t.Fatalf("MinioPublicURL = %q", cfg.Storage.MinioPublicURL)
	}
}
