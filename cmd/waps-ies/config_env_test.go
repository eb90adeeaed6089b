package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("WAPS_IES_PORT", "8001")
	os.Setenv("WAPS_IES_IMAGE_TIMEOUT", "45")
	os.Setenv("WAPS_IES_SLOT_CHANGE_DETECTION", "false")
	os.Setenv("WAPS_IES_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("WAPS_IES_PORT")
		os.Unsetenv("WAPS_IES_IMAGE_TIMEOUT")
		os.Unsetenv("WAPS_IES_SLOT_CHANGE_DETECTION")
		os.Unsetenv("WAPS_IES_LOG_METRICS_INTERVAL")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.port != 8001 {
		t.Fatalf("expected port override, got %d", base.port)
	}
	if base.imageTimeout != 45*time.Minute {
		t.Fatalf("expected imageTimeout 45m got %v", base.imageTimeout)
	}
	if base.slotChangeDetection {
		t.Fatalf("expected slotChangeDetection false")
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	base.port = 7000
	os.Setenv("WAPS_IES_PORT", "9000")
	t.Cleanup(func() { os.Unsetenv("WAPS_IES_PORT") })

	if err := applyEnvOverrides(base, map[string]struct{}{"port": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.port != 7000 {
		t.Fatalf("expected port unchanged 7000, got %d", base.port)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("WAPS_IES_PORT", "notint")
	t.Cleanup(func() { os.Unsetenv("WAPS_IES_PORT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
