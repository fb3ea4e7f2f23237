package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "presence.db")
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func runAndStop(t *testing.T, a *App) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	logger := zerolog.Nop()

	a, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	runAndStop(t, a)
}

func TestApp_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Participants.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	logger := zerolog.Nop()

	a, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	runAndStop(t, a)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Presence.ExpiryWindow = 0
	logger := zerolog.Nop()

	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Participants.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	logger := zerolog.Nop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := New(ctx, &cfg, &logger); err == nil {
		t.Fatal("expected unreachable redis to fail startup")
	}
}
