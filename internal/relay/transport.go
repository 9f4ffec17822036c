// Package relay holds the in-memory coordination core: the connection
// registry, the room index, presence derivation and broadcast fan-out.
package relay

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Transport is the outbound half of a live connection. Implementations must
// make TrySend non-blocking: a full send queue is reported as
// ErrBackpressure, never waited out, so one stalled peer cannot hold up a
// room-wide fan-out.
type Transport interface {
	TrySend(frame []byte) error
	IsOpen() bool
	Close()
}
