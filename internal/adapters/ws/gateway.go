// Package ws is the socket ingestion gateway: it upgrades HTTP requests to
// websocket connections, parses inbound frames and feeds membership and
// content messages into the relay core.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/config"
	"github.com/crewboard/relay/internal/domain"
	"github.com/crewboard/relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Gateway struct {
	Registry *relay.Registry
	Router   *relay.Router
	Cfg      *config.Config
	limiter  *frameRateLimiter
}

func NewGateway(reg *relay.Registry, router *relay.Router, cfg *config.Config) *Gateway {
	var limiter *frameRateLimiter
	if cfg.FrameLimit > 0 {
		limiter = newFrameRateLimiter(cfg.FrameLimit, cfg.FrameInterval)
	}
	return &Gateway{Registry: reg, Router: router, Cfg: cfg, limiter: limiter}
}

// Handle upgrades the request and runs the connection's read and write
// pumps. A connection-established envelope carrying the assigned identity is
// queued before the pumps start, so it is the first frame the client sees.
func (g *Gateway) Handle(ctx context.Context, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	wc := newWSConn(conn, g.Cfg.SendBuffer)
	id := g.Registry.Register(wc)
	log.Info().
		Str("module", "ws").
		Str("conn", string(id)).
		Str("client_token", c.GetString("client_token")).
		Msg("new WS connection")

	greeting, _ := json.Marshal(map[string]domain.ConnectionID{"connectionId": id})
	g.sendEnvelope(wc, domain.Envelope{
		Type:      domain.TypeConnectionEstablished,
		Payload:   greeting,
		Timestamp: domain.NowMillis(),
	})

	ctx, cancel := context.WithCancel(ctx)
	go g.writePump(ctx, id, wc)
	go g.readPump(ctx, cancel, id, wc)
}

// sendEnvelope marshals and queues an envelope for one connection only.
// Queue overflow is a delivery fault like any other: logged and dropped.
func (g *Gateway) sendEnvelope(c *wsConn, env domain.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("type", string(env.Type)).Msg("marshal envelope")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("type", string(env.Type)).Msg("send envelope")
	}
}

func (g *Gateway) sendError(c *wsConn, msg string) {
	payload, _ := json.Marshal(domain.ErrorPayload{Error: msg})
	g.sendEnvelope(c, domain.Envelope{
		Type:      domain.TypeError,
		Payload:   payload,
		Timestamp: domain.NowMillis(),
	})
}
