package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
	"github.com/crewboard/relay/internal/relay"
)

// API serves the HTTP ingestion gateway and the operational endpoints.
type API struct {
	Registry *relay.Registry
	Router   *relay.Router
}

type broadcastRequest struct {
	Type        domain.MessageType `json:"type"`
	ProjectID   domain.ProjectID   `json:"projectId"`
	Payload     json.RawMessage    `json:"payload"`
	OperationID string             `json:"operationId"`
	Timestamp   int64              `json:"timestamp"`
	UserID      domain.UserID      `json:"userId"`
}

type broadcastResponse struct {
	Success     bool   `json:"success"`
	ClientCount int    `json:"clientCount,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Broadcast accepts a trusted fan-out request from the application's API
// layer. The caller is a separate logical actor, not a room member, so no
// connection is excluded from delivery. The returned clientCount is the
// room's current size, informational only.
func (a *API) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, broadcastResponse{Error: "invalid JSON body"})
		return
	}
	if req.Type == "" || req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, broadcastResponse{Error: "type and projectId are required"})
		return
	}

	env := domain.Envelope{
		Type:        req.Type,
		Payload:     req.Payload,
		ProjectID:   req.ProjectID,
		OperationID: req.OperationID,
		Timestamp:   req.Timestamp,
		UserID:      req.UserID,
	}
	if env.OperationID == "" {
		env.OperationID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = domain.NowMillis()
	}

	count := a.Router.Broadcast(env.ProjectID, env, relay.NoExclusion)
	log.Info().
		Str("module", "httpapi").
		Str("type", string(env.Type)).
		Str("project", string(env.ProjectID)).
		Int("clients", count).
		Msg("broadcast ingested")

	c.JSON(http.StatusOK, broadcastResponse{Success: true, ClientCount: count})
}
