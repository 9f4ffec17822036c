package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewboard/relay/internal/domain"
)

func decodeFrames(t *testing.T, frames [][]byte) []domain.Envelope {
	t.Helper()
	out := make([]domain.Envelope, 0, len(frames))
	for _, f := range frames {
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg)
	ta, tb := newFakeTransport(), newFakeTransport()
	a := reg.Register(ta)
	b := reg.Register(tb)
	reg.Join(a, "p1")
	reg.Join(b, "p1")

	env := domain.Envelope{Type: domain.TypeTaskUpdate, ProjectID: "p1", Payload: json.RawMessage(`{"id":"t1"}`)}
	count := router.Broadcast("p1", env, a)

	assert.Equal(t, 2, count)
	assert.Empty(t, ta.frames, "sender must not receive its own echo")
	received := decodeFrames(t, tb.frames)
	require.Len(t, received, 1)
	assert.Equal(t, domain.TypeTaskUpdate, received[0].Type)
	assert.JSONEq(t, `{"id":"t1"}`, string(received[0].Payload))
}

func TestBroadcastWithoutExclusionReachesEveryone(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg)
	ta, tb := newFakeTransport(), newFakeTransport()
	a := reg.Register(ta)
	b := reg.Register(tb)
	reg.Join(a, "p1")
	reg.Join(b, "p1")

	count := router.Broadcast("p1", domain.Envelope{Type: domain.TypeCommentCreate, ProjectID: "p1"}, NoExclusion)

	assert.Equal(t, 2, count)
	assert.Len(t, ta.frames, 1)
	assert.Len(t, tb.frames, 1)
}

func TestBroadcastToAbsentRoomIsSilentNoop(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg)

	count := router.Broadcast("ghost", domain.Envelope{Type: domain.TypeTaskCreate, ProjectID: "ghost"}, NoExclusion)

	assert.Equal(t, 0, count)
}

func TestBroadcastSkipsFailedDeliveries(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg)
	ta, tb, tc := newFakeTransport(), newFakeTransport(), newFakeTransport()
	tb.failSend = true
	a := reg.Register(ta)
	b := reg.Register(tb)
	c := reg.Register(tc)
	reg.Join(a, "p1")
	reg.Join(b, "p1")
	reg.Join(c, "p1")

	count := router.Broadcast("p1", domain.Envelope{Type: domain.TypeTaskDelete, ProjectID: "p1"}, NoExclusion)

	assert.Equal(t, 3, count, "count reports room size, not deliveries")
	assert.Len(t, ta.frames, 1)
	assert.Empty(t, tb.frames)
	assert.Len(t, tc.frames, 1, "a failed sibling must not abort remaining deliveries")
}

func TestBroadcastStaysInsideRoom(t *testing.T) {
	reg := NewRegistry()
	router := NewRouter(reg)
	ta, tb := newFakeTransport(), newFakeTransport()
	a := reg.Register(ta)
	b := reg.Register(tb)
	reg.Join(a, "p1")
	reg.Join(b, "p2")

	router.Broadcast("p1", domain.Envelope{Type: domain.TypeProjectUpdate, ProjectID: "p1"}, NoExclusion)

	assert.Len(t, ta.frames, 1)
	assert.Empty(t, tb.frames, "members of other rooms must not be reached")
}
