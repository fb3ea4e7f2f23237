package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/log"
	"github.com/vovakirdan/wirechat-presence/internal/proto"
)

// ws_smoke registers a participant, opens its live feed and sends a message.
// With -expire it also registers a silent participant and waits for the
// server to announce its departure.
func main() {
	logger := log.New("info")
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("ws_smoke failed")
		os.Exit(1)
	}
	logger.Info().Msg("smoke test passed")
}

func run(logger *zerolog.Logger) error {
	server := flag.String("server", "http://localhost:5000", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	expire := flag.Bool("expire", false, "also wait for a silent participant to be expired")
	timeout := flag.Duration("timeout", 45*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	base := strings.TrimRight(*server, "/")
	suffix := uuid.NewString()[:8]
	user := "smoke-" + suffix
	silent := "silent-" + suffix

	if err := register(ctx, base, user); err != nil {
		return err
	}
	if *expire {
		if err := register(ctx, base, silent); err != nil {
			return err
		}
	}

	conn, _, err := websocket.Dial(ctx, strings.Replace(base, "http", "ws", 1)+"/ws?user="+url.QueryEscape(user), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.MsgData{To: core.BroadcastTarget, Text: *text, Type: string(core.KindMessage)})
	if err != nil {
		return fmt.Errorf("marshal msg: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	gotEcho := false
	gotDeparture := !*expire
	heartbeat := time.NewTicker(3 * time.Second)
	defer heartbeat.Stop()

	frames := make(chan proto.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			var outbound struct {
				proto.Outbound
				Data proto.Message `json:"data"`
			}
			if err := wsjson.Read(ctx, conn, &outbound); err != nil {
				readErr <- err
				return
			}
			if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
				readErr <- fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
				return
			}
			frames <- outbound.Data
		}
	}()

	for !gotEcho || !gotDeparture {
		select {
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-heartbeat.C:
			// Keep the smoke participant itself alive while waiting.
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeStatus}); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case msg := <-frames:
			logger.Info().Str("from", msg.From).Str("to", msg.To).Str("type", msg.Type).Str("text", msg.Text).Msg("event")
			if msg.From == user && msg.Text == *text {
				gotEcho = true
			}
			if msg.From == silent && msg.Type == string(core.KindStatus) && msg.Text == core.LeaveText {
				gotDeparture = true
			}
		}
	}

	return nil
}

func register(ctx context.Context, base, name string) error {
	body, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/participants", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register %s: unexpected status %s", name, resp.Status)
	}
	return nil
}
