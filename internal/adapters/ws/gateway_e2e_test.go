package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewboard/relay/internal/domain"
)

// Exercises the full upgrade path over a real socket: the greeting must be
// the first frame, and a join must come back as a presence push.
func TestGatewayOverRealWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newTestGateway(testConfig())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { g.Handle(context.Background(), c) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.TypeConnectionEstablished, env.Type)

	var greeting struct {
		ConnectionID domain.ConnectionID `json:"connectionId"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &greeting))
	assert.NotEmpty(t, greeting.ConnectionID)

	require.NoError(t, conn.WriteJSON(domain.Envelope{
		Type:      domain.TypeJoinRoom,
		ProjectID: "P1",
		UserID:    "u1",
	}))

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, domain.TypePresence, env.Type)
	state := presencePayload(t, env)
	require.Equal(t, 1, state.Count)
	assert.Equal(t, greeting.ConnectionID, state.Users[0].ConnectionID)
}
