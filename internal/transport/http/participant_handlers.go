package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/service/presence"
)

// ParticipantHandlers provides HTTP handlers for registration and heartbeats.
type ParticipantHandlers struct {
	presence *presence.Service
	log      *zerolog.Logger
}

// NewParticipantHandlers creates a new participant handlers instance.
func NewParticipantHandlers(svc *presence.Service, logger *zerolog.Logger) *ParticipantHandlers {
	return &ParticipantHandlers{
		presence: svc,
		log:      logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

// ParticipantResponse represents a participant in API responses.
// LastStatus is the last heartbeat in unix milliseconds.
type ParticipantResponse struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"`
}

// Register handles participant registration.
// POST /participants
func (h *ParticipantHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.presence.Register(c.Request.Context(), req.Name); err != nil {
		writeError(c, h.log, err, "failed to register participant")
		return
	}

	c.Status(http.StatusCreated)
}

// List handles listing present participants.
// GET /participants
func (h *ParticipantHandlers) List(c *gin.Context) {
	participants, err := h.presence.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "failed to list participants")
		return
	}

	response := make([]ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		response = append(response, participantResponse(p))
	}

	c.JSON(http.StatusOK, response)
}

// Status handles heartbeats.
// POST /status
func (h *ParticipantHandlers) Status(c *gin.Context) {
	if err := h.presence.Heartbeat(c.Request.Context(), callerName(c)); err != nil {
		writeError(c, h.log, err, "failed to record heartbeat")
		return
	}

	c.Status(http.StatusOK)
}

func participantResponse(p core.Participant) ParticipantResponse {
	return ParticipantResponse{
		Name:       p.Name,
		LastStatus: p.LastStatus.UnixMilli(),
	}
}
