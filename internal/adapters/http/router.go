// Package http wires the gin router: the websocket endpoint, the trusted
// broadcast endpoint for the application's API layer, and the read-only
// operational endpoints.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crewboard/relay/internal/adapters/ws"
	"github.com/crewboard/relay/internal/config"
	"github.com/crewboard/relay/internal/relay"
)

// ClientTokenMiddleware tags every browser with a stable opaque token. The
// relay does not authenticate; the token only keeps log lines correlatable
// across reconnects of the same tab.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *relay.Registry, router *relay.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	gw := ws.NewGateway(reg, router, cfg)
	api := &API{Registry: reg, Router: router}

	r.GET("/healthz", api.Health)

	group := r.Group("/api")
	group.GET("/ws", func(c *gin.Context) {
		gw.Handle(ctx, c)
	})
	group.POST("/broadcast", api.Broadcast)
	group.GET("/stats", api.Stats)

	return r
}
