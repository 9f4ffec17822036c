package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crewboard/relay/internal/domain"
)

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: a.Registry.ConnectionCount(),
		Rooms:       a.Registry.RoomCount(),
	})
}

type roomStats struct {
	Members []domain.ConnectionID `json:"members"`
	Count   int                   `json:"count"`
}

type statsResponse struct {
	Rooms map[domain.ProjectID]roomStats `json:"rooms"`
}

// Stats reports per-room membership. Read-only, no side effects.
func (a *API) Stats(c *gin.Context) {
	membership := a.Registry.RoomMembership()
	resp := statsResponse{Rooms: make(map[domain.ProjectID]roomStats, len(membership))}
	for project, ids := range membership {
		resp.Rooms[project] = roomStats{Members: ids, Count: len(ids)}
	}
	c.JSON(http.StatusOK, resp)
}
