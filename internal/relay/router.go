package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/crewboard/relay/internal/domain"
)

// NoExclusion is passed to Broadcast when every room member should receive
// the envelope, e.g. on the HTTP ingestion path.
const NoExclusion = domain.ConnectionID("")

// Router fans an envelope out to every member of a room. Delivery is
// at-most-once: a failed write to one member is logged and skipped, never
// retried and never allowed to abort delivery to the rest.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Broadcast delivers env to every open connection in the room except
// exclude. Broadcasting to an absent or empty room is a silent no-op. The
// return value is the room's current member count, before exclusion; it is
// informational only, not a delivery guarantee.
func (r *Router) Broadcast(project domain.ProjectID, env domain.Envelope, exclude domain.ConnectionID) int {
	members := r.reg.Members(project)
	if len(members) == 0 {
		return 0
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.router").Str("type", string(env.Type)).Msg("marshal envelope")
		return len(members)
	}
	for _, m := range members {
		if m.ID == exclude {
			continue
		}
		if err := m.Transport.TrySend(frame); err != nil {
			log.Warn().Err(err).
				Str("module", "relay.router").
				Str("conn", string(m.ID)).
				Str("project", string(project)).
				Str("type", string(env.Type)).
				Msg("delivery fault, skipping member")
		}
	}
	return len(members)
}
