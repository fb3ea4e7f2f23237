package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/proto"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
	"github.com/vovakirdan/wirechat-presence/internal/service/presence"
)

// WSHandler upgrades HTTP connections into a live feed for one participant.
// Frames sent by the client count as heartbeats or messages.
type WSHandler struct {
	hub      *core.Hub
	presence *presence.Service
	chat     *chat.Service
	limiter  *rateLimiter
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, presenceSvc *presence.Service, chatSvc *chat.Service, limiter *rateLimiter, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:      hub,
		presence: presenceSvc,
		chat:     chatSvc,
		limiter:  limiter,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	name := strings.TrimSpace(r.URL.Query().Get("user"))
	if name == "" {
		name = strings.TrimSpace(r.Header.Get(HeaderUser))
	}
	ok, err := h.presence.Exists(ctx, name)
	if err != nil {
		h.log.Error().Err(err).Msg("ws participant lookup failed")
		stdhttp.Error(w, "internal server error", stdhttp.StatusInternalServerError)
		return
	}
	if !ok {
		stdhttp.Error(w, "participant not found", stdhttp.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// Opening the feed counts as a heartbeat.
	if err := h.presence.Heartbeat(ctx, name); err != nil {
		h.log.Debug().Err(err).Str("participant", name).Msg("ws initial heartbeat failed")
	}

	client := core.NewClient(uuid.NewString(), name)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("participant", name).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		action, protoErr := decodeInbound(inbound)
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
				return err
			}
			continue
		}

		if err := h.apply(ctx, client, action); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("ws action failed")
			if writeErr := wsjson.Write(ctx, conn, outboundFromError(err)); writeErr != nil {
				return writeErr
			}
		}
	}
}

func (h *WSHandler) apply(ctx context.Context, client *core.Client, action *inboundAction) error {
	if action.heartbeat {
		return h.presence.Heartbeat(ctx, client.Name)
	}
	if !h.limiter.allow(client.Name) {
		return &core.CoreError{Code: "rate_limited", Message: "too many messages"}
	}
	// The created message reaches this client through the hub.
	_, err := h.chat.Send(ctx, client.Name, action.send)
	return err
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
