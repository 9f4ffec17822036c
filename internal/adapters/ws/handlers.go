package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
	"github.com/crewboard/relay/internal/relay"
)

// handleFrame is the single entry point for inbound frames. A malformed
// frame earns the sender an error envelope and nothing else; the connection
// stays open.
func (g *Gateway) handleFrame(id domain.ConnectionID, c *wsConn, frame []byte) {
	if g.limiter != nil && !g.limiter.Allow(id) {
		g.sendError(c, "rate_limited")
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("bad frame")
		g.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case domain.TypeSetUser:
		g.handleSetUser(id, c, env)
	case domain.TypeJoinRoom:
		g.handleJoinRoom(id, c, env)
	case domain.TypeLeaveRoom:
		g.handleLeaveRoom(id, c, env)
	case domain.TypePing:
		g.sendEnvelope(c, domain.Envelope{Type: domain.TypePong, Timestamp: domain.NowMillis()})
	default:
		if env.Type.IsContent() {
			g.handleContent(id, c, env)
			return
		}
		log.Warn().Str("module", "ws").Str("conn", string(id)).Str("type", string(env.Type)).Msg("unknown message type")
	}
}

func (g *Gateway) handleSetUser(id domain.ConnectionID, c *wsConn, env domain.Envelope) {
	if env.UserID == "" {
		g.sendError(c, "missing userId")
		return
	}
	for _, project := range g.Registry.Identify(id, env.UserID) {
		g.broadcastPresence(project)
	}
}

func (g *Gateway) handleJoinRoom(id domain.ConnectionID, c *wsConn, env domain.Envelope) {
	if env.ProjectID == "" {
		g.sendError(c, "missing projectId")
		return
	}
	if env.UserID != "" {
		g.Registry.Identify(id, env.UserID)
	}
	g.Registry.Join(id, env.ProjectID)
	g.broadcastPresence(env.ProjectID)
}

func (g *Gateway) handleLeaveRoom(id domain.ConnectionID, c *wsConn, env domain.Envelope) {
	if env.ProjectID == "" {
		g.sendError(c, "missing projectId")
		return
	}
	g.Registry.Leave(id, env.ProjectID)
	g.broadcastPresence(env.ProjectID)
}

// handleContent fans a mutation notification out to the rest of the room.
// The sender is excluded: it already holds the authoritative local state and
// must not receive an echo of its own action.
func (g *Gateway) handleContent(id domain.ConnectionID, c *wsConn, env domain.Envelope) {
	if env.ProjectID == "" {
		g.sendError(c, "missing projectId")
		return
	}
	g.Router.Broadcast(env.ProjectID, env, id)
}

// broadcastPresence recomputes the room's presence and pushes it to every
// member, including the one whose state just changed.
func (g *Gateway) broadcastPresence(project domain.ProjectID) {
	payload, err := json.Marshal(g.Registry.Presence(project))
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("project", string(project)).Msg("marshal presence")
		return
	}
	g.Router.Broadcast(project, domain.Envelope{
		Type:      domain.TypePresence,
		Payload:   payload,
		ProjectID: project,
		Timestamp: domain.NowMillis(),
	}, relay.NoExclusion)
}
