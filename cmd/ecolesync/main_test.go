package main

import (
	"os"
	"testing"
	"time"
)

func TestEnvOrDefaultPrefersSetValue(t *testing.T) {
	t.Setenv("ECOLESYNC_TEST_STR", "postgres")
	if got := envOrDefault("ECOLESYNC_TEST_STR", "websocket"); got != "postgres" {
		t.Fatalf("expected postgres, got %q", got)
	}
}

func TestEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("ECOLESYNC_TEST_STR_UNSET")
	if got := envOrDefault("ECOLESYNC_TEST_STR_UNSET", "postgres"); got != "postgres" {
		t.Fatalf("expected fallback postgres, got %q", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("ECOLESYNC_TEST_DURATION", "150ms")
	if got := durationEnv("ECOLESYNC_TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("ECOLESYNC_TEST_DURATION_BAD", "soon")
	if got := durationEnv("ECOLESYNC_TEST_DURATION_BAD", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}
