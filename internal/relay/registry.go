package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
)

type connRecord struct {
	transport Transport
	userID    domain.UserID
	rooms     map[domain.ProjectID]time.Time // joinedAt per room
	lastSeen  time.Time
}

// Registry owns the connection map and the room index behind one mutex. The
// room index is maintained in lock-step with connection state: a room bucket
// exists iff it has at least one member.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*connRecord
	rooms map[domain.ProjectID]map[domain.ConnectionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnectionID]*connRecord),
		rooms: make(map[domain.ProjectID]map[domain.ConnectionID]struct{}),
	}
}

// Register inserts a new connection with an empty room set and returns its
// generated identity.
func (r *Registry) Register(t Transport) domain.ConnectionID {
	id := domain.ConnectionID(uuid.NewString())
	r.mu.Lock()
	r.conns[id] = &connRecord{
		transport: t,
		rooms:     make(map[domain.ProjectID]time.Time),
		lastSeen:  time.Now(),
	}
	r.mu.Unlock()
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Msg("registered connection")
	return id
}

// Identify sets or overwrites the user identity of a connection and returns
// the rooms it is currently in, so the caller can rebroadcast presence.
func (r *Registry) Identify(id domain.ConnectionID, userID domain.UserID) []domain.ProjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.mustConn(id)
	rec.userID = userID
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("user", string(userID)).Msg("identified connection")
	return roomList(rec)
}

// Join adds the connection to the room, lazily creating the bucket. Joining a
// room already joined is a no-op.
func (r *Registry) Join(id domain.ConnectionID, project domain.ProjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.mustConn(id)
	if _, ok := rec.rooms[project]; ok {
		return
	}
	rec.rooms[project] = time.Now()
	bucket, ok := r.rooms[project]
	if !ok {
		bucket = make(map[domain.ConnectionID]struct{})
		r.rooms[project] = bucket
	}
	bucket[id] = struct{}{}
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("project", string(project)).Msg("joined room")
}

// Leave removes the connection from the room, deleting the bucket when it
// becomes empty. Leaving a room not joined is a no-op.
func (r *Registry) Leave(id domain.ConnectionID, project domain.ProjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.mustConn(id)
	if _, ok := rec.rooms[project]; !ok {
		return
	}
	delete(rec.rooms, project)
	r.dropFromBucket(id, project)
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Str("project", string(project)).Msg("left room")
}

// Deregister removes the connection from every room it belonged to and
// deletes its record. It returns the affected rooms for presence
// rebroadcast. Deregistering an unknown connection is a no-op; the transport
// close callback may fire more than once.
func (r *Registry) Deregister(id domain.ConnectionID) []domain.ProjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conns[id]
	if !ok {
		return nil
	}
	affected := roomList(rec)
	for _, project := range affected {
		r.dropFromBucket(id, project)
	}
	delete(r.conns, id)
	log.Info().Str("module", "relay.registry").Str("conn", string(id)).Int("rooms", len(affected)).Msg("deregistered connection")
	return affected
}

// Touch refreshes the liveness timestamp, typically from a pong handler.
func (r *Registry) Touch(id domain.ConnectionID) {
	r.mu.Lock()
	if rec, ok := r.conns[id]; ok {
		rec.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// RoomsOf returns the rooms the connection is currently a member of.
func (r *Registry) RoomsOf(id domain.ConnectionID) []domain.ProjectID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conns[id]
	if !ok {
		return nil
	}
	return roomList(rec)
}

// Member pairs a connection identity with its live transport.
type Member struct {
	ID        domain.ConnectionID
	Transport Transport
}

// Members returns a snapshot of the room's membership. A nil result means
// the room does not exist.
func (r *Registry) Members(project domain.ProjectID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.rooms[project]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(bucket))
	for id := range bucket {
		out = append(out, Member{ID: id, Transport: r.conns[id].transport})
	}
	return out
}

// Presence derives the distinct identified users currently in a room.
// Connections without a user identity or with a closed transport are
// filtered out. No ordering guarantee.
func (r *Registry) Presence(project domain.ProjectID) domain.PresenceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := domain.PresenceState{ProjectID: project, Users: []domain.PresenceEntry{}}
	bucket, ok := r.rooms[project]
	if !ok {
		return state
	}
	for id := range bucket {
		rec := r.conns[id]
		if rec.userID == "" || !rec.transport.IsOpen() {
			continue
		}
		state.Users = append(state.Users, domain.PresenceEntry{
			UserID:       rec.userID,
			ConnectionID: id,
			JoinedAt:     rec.rooms[project].UnixMilli(),
		})
	}
	state.Count = len(state.Users)
	return state
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomMembership returns per-room member identities for the stats endpoint.
func (r *Registry) RoomMembership() map[domain.ProjectID][]domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.ProjectID][]domain.ConnectionID, len(r.rooms))
	for project, bucket := range r.rooms {
		ids := make([]domain.ConnectionID, 0, len(bucket))
		for id := range bucket {
			ids = append(ids, id)
		}
		out[project] = ids
	}
	return out
}

// mustConn looks up a record under the lock already held by the caller.
// Membership mutations referencing an unknown connection are an
// internal-consistency bug in the gateway, not a recoverable condition.
func (r *Registry) mustConn(id domain.ConnectionID) *connRecord {
	rec, ok := r.conns[id]
	if !ok {
		log.Panic().Str("module", "relay.registry").Str("conn", string(id)).Msg("membership op on unknown connection")
	}
	return rec
}

func (r *Registry) dropFromBucket(id domain.ConnectionID, project domain.ProjectID) {
	bucket, ok := r.rooms[project]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(r.rooms, project)
	}
}

func roomList(rec *connRecord) []domain.ProjectID {
	out := make([]domain.ProjectID, 0, len(rec.rooms))
	for project := range rec.rooms {
		out = append(out, project)
	}
	return out
}
