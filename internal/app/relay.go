package app

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/metrics"
)

// Relay is the fan-out engine: one inbound packet becomes one enqueue per
// session member except the sender. It never blocks on a recipient; full
// queues evict their oldest packet instead.
type Relay struct {
	registry *Registry
	m        *metrics.Metrics
}

func NewRelay(registry *Registry, m *metrics.Metrics) *Relay {
	return &Relay{registry: registry, m: m}
}

// OnPacket relays p to every other client in its session. A packet for an
// absent session fails with domain.ErrUnknownSession; callers drop it and
// keep going.
func (r *Relay) OnPacket(p domain.Packet) error {
	sess, ok := r.registry.Lookup(p.Session)
	if !ok {
		r.m.UnknownSessions.Inc()
		return fmt.Errorf("relay: %w: %s", domain.ErrUnknownSession, p.Session)
	}

	// Receiving a decodable packet is proof the sender's handshake worked
	// and counts as activity.
	if sender, ok := sess.Get(p.Sender); ok {
		sender.MarkActive()
		sender.Touch()
	}
	sess.CountPacket()

	for _, h := range sess.Recipients(p.Sender) {
		evicted, err := h.Queue.Push(p)
		if err != nil {
			// Recipient is draining or closed; it is on its way out of
			// the session and gets nothing new.
			if !errors.Is(err, domain.ErrClientClosed) {
				log.Warn().Err(err).Str("module", "app.relay").
					Str("client", h.ID.String()).
					Msg("enqueue failed")
			}
			continue
		}
		if evicted {
			r.m.QueueEvictions.Inc()
			log.Debug().Str("module", "app.relay").
				Str("client", h.ID.String()).
				Msg("outbound queue full, evicted oldest")
		}
		r.m.PacketsRelayed.Inc()
	}
	return nil
}
