package client

import (
	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
)

// Handlers are the application's state-update callbacks, invoked
// synchronously in arrival order with the full envelope. Nil callbacks are
// skipped.
type Handlers struct {
	OnConnectionEstablished func(domain.Envelope)
	OnTaskCreate            func(domain.Envelope)
	OnTaskUpdate            func(domain.Envelope)
	OnTaskDelete            func(domain.Envelope)
	OnCommentCreate         func(domain.Envelope)
	OnCommentUpdate         func(domain.Envelope)
	OnCommentDelete         func(domain.Envelope)
	OnProjectUpdate         func(domain.Envelope)
	OnUserPresence          func(domain.Envelope)
	OnError                 func(domain.Envelope)

	// OnDisconnected fires once the manager gives up reconnecting.
	OnDisconnected func(error)
}

func (h Handlers) dispatch(env domain.Envelope) {
	var cb func(domain.Envelope)
	switch env.Type {
	case domain.TypeConnectionEstablished:
		cb = h.OnConnectionEstablished
	case domain.TypeTaskCreate:
		cb = h.OnTaskCreate
	case domain.TypeTaskUpdate:
		cb = h.OnTaskUpdate
	case domain.TypeTaskDelete:
		cb = h.OnTaskDelete
	case domain.TypeCommentCreate:
		cb = h.OnCommentCreate
	case domain.TypeCommentUpdate:
		cb = h.OnCommentUpdate
	case domain.TypeCommentDelete:
		cb = h.OnCommentDelete
	case domain.TypeProjectUpdate:
		cb = h.OnProjectUpdate
	case domain.TypePresence:
		cb = h.OnUserPresence
	case domain.TypeError:
		cb = h.OnError
	case domain.TypePong:
		return
	default:
		log.Warn().Str("module", "client").Str("type", string(env.Type)).Msg("unknown message type")
		return
	}
	if cb != nil {
		cb(env)
	}
}
