// Package client keeps one durable logical session to the relay over an
// unreliable transport: it reconnects with exponential backoff, replays the
// intended room memberships after every reconnect and dispatches inbound
// envelopes to typed callbacks.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

type Options struct {
	URL         string
	Dialer      Dialer        // defaults to the gorilla websocket dialer
	Handlers    Handlers
	MaxAttempts int           // consecutive failed attempts before giving up, default 10
	BaseBackoff time.Duration // default 500ms
	MaxBackoff  time.Duration // default 30s
	StableAfter time.Duration // connection lifetime that resets the attempt counter, default 30s
}

// Manager owns one logical connection. The server holds no session across
// reconnects — a fresh transport is a fresh connection with empty
// membership — so the manager remembers what the caller intended (user
// identity, joined rooms) and reapplies it on every OPEN transition.
type Manager struct {
	opts Options

	mu           sync.Mutex
	state        State
	conn         Conn
	connectionID domain.ConnectionID
	userID       domain.UserID
	rooms        map[domain.ProjectID]struct{}
	closing      bool
	cancel       context.CancelFunc

	wmu sync.Mutex // serializes writes to the current conn
}

func New(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = 30 * time.Second
	}
	return &Manager{
		opts:  opts,
		rooms: make(map[domain.ProjectID]struct{}),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the identity the relay assigned on the current
// transport, empty while disconnected.
func (m *Manager) ConnectionID() domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

// Connect starts the connection loop. It returns immediately; connection
// state is observable via State and the OnDisconnected callback.
func (m *Manager) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.closing = false
	m.mu.Unlock()
	go m.run(ctx)
}

// Close tears the session down for good. No reconnect is attempted.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	m.state = StateClosing
	conn := m.conn
	cancel := m.cancel
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// JoinProject records the membership intent and, when the session is open,
// sends the join immediately. While disconnected the intent is buffered and
// applied on the next OPEN transition.
func (m *Manager) JoinProject(project domain.ProjectID, user domain.UserID) {
	m.mu.Lock()
	m.rooms[project] = struct{}{}
	if user != "" {
		m.userID = user
	}
	conn := m.openConn()
	m.mu.Unlock()
	if conn != nil {
		m.send(conn, domain.Envelope{
			Type:      domain.TypeJoinRoom,
			ProjectID: project,
			UserID:    user,
			Timestamp: domain.NowMillis(),
		})
	}
}

// LeaveProject drops the membership intent and, when open, sends the leave.
func (m *Manager) LeaveProject(project domain.ProjectID, user domain.UserID) {
	m.mu.Lock()
	delete(m.rooms, project)
	conn := m.openConn()
	m.mu.Unlock()
	if conn != nil {
		m.send(conn, domain.Envelope{
			Type:      domain.TypeLeaveRoom,
			ProjectID: project,
			UserID:    user,
			Timestamp: domain.NowMillis(),
		})
	}
}

// SetUser records the identity intent and, when open, sends it.
func (m *Manager) SetUser(user domain.UserID) {
	m.mu.Lock()
	m.userID = user
	conn := m.openConn()
	m.mu.Unlock()
	if conn != nil {
		m.send(conn, domain.Envelope{
			Type:      domain.TypeSetUser,
			UserID:    user,
			Timestamp: domain.NowMillis(),
		})
	}
}

// openConn must be called with m.mu held.
func (m *Manager) openConn() Conn {
	if m.state == StateOpen {
		return m.conn
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	attempt := 0
	for {
		m.setState(StateConnecting)
		conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
		if err != nil {
			attempt++
			if attempt >= m.opts.MaxAttempts {
				m.fail(fmt.Errorf("relay unreachable after %d attempts: %w", attempt, err))
				return
			}
			if !m.awaitRetry(ctx, attempt, err) {
				return
			}
			continue
		}

		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			_ = conn.Close()
			m.setState(StateDisconnected)
			return
		}
		m.conn = conn
		m.state = StateOpen
		m.mu.Unlock()
		log.Info().Str("module", "client").Msg("session open")
		openedAt := time.Now()

		m.replayIntents(conn)
		readErr := m.readLoop(conn)

		m.mu.Lock()
		m.conn = nil
		m.connectionID = ""
		closing := m.closing
		m.state = StateDisconnected
		m.mu.Unlock()
		if closing || ctx.Err() != nil {
			return
		}

		// A connection that survived long enough proves the relay is
		// reachable; only then does the attempt counter start over. An
		// accept-then-drop server must not bypass the backoff schedule.
		if time.Since(openedAt) >= m.opts.StableAfter {
			attempt = 0
		}
		attempt++
		if attempt >= m.opts.MaxAttempts {
			m.fail(fmt.Errorf("connection kept dropping after %d attempts: %w", attempt, readErr))
			return
		}
		if !m.awaitRetry(ctx, attempt, readErr) {
			return
		}
	}
}

// awaitRetry sleeps out the backoff delay for the given attempt. It returns
// false when the loop must stop instead of redialing.
func (m *Manager) awaitRetry(ctx context.Context, attempt int, cause error) bool {
	delay := backoffDelay(attempt, m.opts.BaseBackoff, m.opts.MaxBackoff)
	log.Warn().Err(cause).
		Str("module", "client").
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("connection attempt failed")
	select {
	case <-ctx.Done():
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			m.setState(StateDisconnected)
			return false
		}
		m.fail(ctx.Err())
		return false
	case <-time.After(delay):
		return true
	}
}

// replayIntents pushes identity first, then the room set, so presence
// computed from the joins already carries the user.
func (m *Manager) replayIntents(conn Conn) {
	m.mu.Lock()
	user := m.userID
	rooms := make([]domain.ProjectID, 0, len(m.rooms))
	for p := range m.rooms {
		rooms = append(rooms, p)
	}
	m.mu.Unlock()

	if user != "" {
		m.send(conn, domain.Envelope{
			Type:      domain.TypeSetUser,
			UserID:    user,
			Timestamp: domain.NowMillis(),
		})
	}
	for _, p := range rooms {
		m.send(conn, domain.Envelope{
			Type:      domain.TypeJoinRoom,
			ProjectID: p,
			UserID:    user,
			Timestamp: domain.NowMillis(),
		})
	}
}

// readLoop dispatches inbound envelopes synchronously, in arrival order,
// until the transport fails. The transport error is returned so the
// reconnect loop can surface it when it gives up.
func (m *Manager) readLoop(conn Conn) error {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad inbound frame")
		return
	}
	if env.Type == domain.TypeConnectionEstablished {
		var p struct {
			ConnectionID domain.ConnectionID `json:"connectionId"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			m.mu.Lock()
			m.connectionID = p.ConnectionID
			m.mu.Unlock()
		}
	}
	m.opts.Handlers.dispatch(env)
}

func (m *Manager) send(conn Conn, env domain.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("type", string(env.Type)).Msg("marshal envelope")
		return
	}
	m.wmu.Lock()
	err = conn.WriteMessage(frame)
	m.wmu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Str("type", string(env.Type)).Msg("write failed")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// fail settles the manager in the terminal disconnected state and surfaces
// the error to the owner.
func (m *Manager) fail(err error) {
	m.setState(StateDisconnected)
	log.Error().Err(err).Str("module", "client").Msg("session terminated")
	if m.opts.Handlers.OnDisconnected != nil {
		m.opts.Handlers.OnDisconnected(err)
	}
}

// backoffDelay doubles from base per consecutive failed attempt, capped at
// max. Pure so the schedule is testable without timers.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
