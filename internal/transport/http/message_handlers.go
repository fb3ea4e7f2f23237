package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/proto"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
)

// MessageHandlers provides HTTP handlers for the message log.
type MessageHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *chat.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		chat: svc,
		log:  logger,
	}
}

// MessageRequest is the body of POST /messages and PUT /messages/:id.
// Field validation happens in the chat service so both routes and the
// websocket share the same rules.
type MessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

func (r MessageRequest) input() chat.SendInput {
	return chat.SendInput{To: r.To, Text: r.Text, Kind: core.MessageKind(r.Type)}
}

// Send handles posting a message.
// POST /messages
func (h *MessageHandlers) Send(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid message request")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), callerName(c), req.input())
	if err != nil {
		writeError(c, h.log, err, "failed to send message")
		return
	}

	c.JSON(http.StatusCreated, messageFromCore(*msg))
}

// List handles reading the messages visible to the caller.
// GET /messages?limit=N
func (h *MessageHandlers) List(c *gin.Context) {
	limit, err := chat.ParseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, h.log, err, "invalid limit")
		return
	}

	msgs, err := h.chat.Query(c.Request.Context(), callerName(c), limit)
	if err != nil {
		writeError(c, h.log, err, "failed to list messages")
		return
	}

	c.JSON(http.StatusOK, lo.Map(msgs, func(m core.Message, _ int) proto.Message {
		return messageFromCore(m)
	}))
}

// Edit handles changing a message owned by the caller.
// PUT /messages/:id
func (h *MessageHandlers) Edit(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid edit request")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.chat.Edit(c.Request.Context(), c.Param("id"), callerName(c), req.input())
	if err != nil {
		writeError(c, h.log, err, "failed to edit message")
		return
	}

	c.JSON(http.StatusOK, messageFromCore(*msg))
}

// Delete handles removing a message owned by the caller.
// DELETE /messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	if _, err := h.chat.Delete(c.Request.Context(), c.Param("id"), callerName(c)); err != nil {
		writeError(c, h.log, err, "failed to delete message")
		return
	}

	c.Status(http.StatusOK)
}
