package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/config"
	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
	"github.com/vovakirdan/wirechat-presence/internal/service/presence"
	"github.com/vovakirdan/wirechat-presence/internal/store/sqlite"
)

type testEnv struct {
	server *httptest.Server
	store  *sqlite.SQLiteStore
}

// startTestServer serves the full router over an in-memory store.
func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := core.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}

	disabledLogger := zerolog.Nop()
	m := metrics.New()

	deps := Deps{
		Hub:      hub,
		Presence: presence.NewService(st, st, hub, m, &disabledLogger),
		Chat:     chat.NewService(st, st, hub, m, &disabledLogger),
		Metrics:  m,
		Health:   []Pinger{st},
	}

	ts := httptest.NewServer(NewServer(deps, &cfg, &disabledLogger).Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st}
}

// do sends a JSON request and returns the status code and body.
func (e *testEnv) do(t *testing.T, method, path, user string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUser, user)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (e *testEnv) register(t *testing.T, name string) {
	t.Helper()
	if code, body := e.do(t, http.MethodPost, "/participants", "", map[string]string{"name": name}); code != http.StatusCreated {
		t.Fatalf("register %q: status %d: %s", name, code, body)
	}
}
