package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/log"
	"github.com/vovakirdan/wirechat-presence/internal/proto"
)

func main() {
	logger := log.New("info")
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("ws_chat failed")
		os.Exit(1)
	}
}

func run(logger *zerolog.Logger) error {
	server := flag.String("server", "http://localhost:5000", "server base URL")
	user := flag.String("user", "cli-user", "participant name")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "heartbeat interval (must be below the server expiry window)")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if err := register(ctx, *server, *user); err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL(*server, *user), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s\n", *server, *user)
	fmt.Println("Type a message and press Enter. Use \"@name text\" for a private message. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, logger)
	}()
	go heartbeatLoop(ctx, conn, *heartbeat, logger)

	writeLoop(ctx, conn, logger)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

// register creates the participant; an existing one is reused.
func register(ctx context.Context, server, user string) error {
	body, _ := json.Marshal(map[string]string{"name": user})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/participants", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("register: unexpected status %s", resp.Status)
	}
}

func wsURL(server, user string) string {
	u := strings.TrimRight(server, "/")
	u = strings.Replace(u, "http", "ws", 1)
	return u + "/ws?user=" + url.QueryEscape(user)
}

func heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeStatus}); err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, logger *zerolog.Logger) {
	for {
		var outbound struct {
			proto.Outbound
			Data proto.Message `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			logger.Warn().Err(err).Msg("read error")
			return
		}

		if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
			fmt.Printf("! %s: %s\n", outbound.Error.Code, outbound.Error.Msg)
			continue
		}

		msg := outbound.Data
		switch outbound.Event {
		case proto.EventMessage:
			switch core.MessageKind(msg.Type) {
			case core.KindStatus:
				fmt.Printf("(%s) %s %s\n", msg.Time, msg.From, msg.Text)
			case core.KindPrivateMessage:
				fmt.Printf("(%s) %s -> %s (private): %s\n", msg.Time, msg.From, msg.To, msg.Text)
			default:
				fmt.Printf("(%s) %s -> %s: %s\n", msg.Time, msg.From, msg.To, msg.Text)
			}
		case proto.EventMessageUpdated:
			fmt.Printf("(%s) %s edited: %s\n", msg.Time, msg.From, msg.Text)
		case proto.EventMessageDeleted:
			fmt.Printf("(%s) %s deleted a message\n", msg.Time, msg.From)
		default:
			fmt.Printf("event=%s data=%+v\n", outbound.Event, msg)
		}
	}
}

// parseLine turns "@bob hi" into a private message and anything else into a
// broadcast.
func parseLine(line string) proto.MsgData {
	if strings.HasPrefix(line, "@") {
		to, text, ok := strings.Cut(line[1:], " ")
		if ok && to != "" && strings.TrimSpace(text) != "" {
			return proto.MsgData{To: to, Text: strings.TrimSpace(text), Type: string(core.KindPrivateMessage)}
		}
	}
	return proto.MsgData{To: core.BroadcastTarget, Text: line, Type: string(core.KindMessage)}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, logger *zerolog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			payload, err := json.Marshal(parseLine(text))
			if err != nil {
				logger.Error().Err(err).Msg("marshal msg")
				return
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeMsg, Data: payload}); err != nil {
				logger.Error().Err(err).Msg("send error")
				return
			}
		}
	}
}
