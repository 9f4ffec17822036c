package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
)

func (g *Gateway) pingPeriod() time.Duration {
	if g.Cfg.PingPeriod <= 0 {
		return defaultPingPeriod
	}
	return g.Cfg.PingPeriod
}

// pongWait must exceed the ping period so a healthy peer always answers in
// time; the probe only prunes dead transports, it never cuts live ones.
func (g *Gateway) pongWait() time.Duration {
	return g.pingPeriod() * 10 / 9
}

func (g *Gateway) writePump(ctx context.Context, id domain.ConnectionID, c *wsConn) {
	ticker := time.NewTicker(g.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ConnectionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("conn", string(id)).Msg("readPump closing")
		cancel()
		c.Close()
		g.disconnect(id)
	}()

	c.conn.SetReadLimit(g.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		g.Registry.Touch(id)
		return c.conn.SetReadDeadline(time.Now().Add(g.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, frame, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			g.handleFrame(id, c, frame)
		}
	}
}

// disconnect removes the connection everywhere and pushes fresh presence to
// every room it had belonged to.
func (g *Gateway) disconnect(id domain.ConnectionID) {
	if g.limiter != nil {
		g.limiter.Forget(id)
	}
	for _, project := range g.Registry.Deregister(id) {
		g.broadcastPresence(project)
	}
}
