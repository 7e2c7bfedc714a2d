package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/metrics"
)

// Options are the knobs the relay core consumes. Everything else
// (addresses, toggles) belongs to the surrounding application.
type Options struct {
	// HeartbeatTimeout is the maximum client inactivity before a client is
	// considered disconnected.
	HeartbeatTimeout time.Duration
	// SessionClientCap caps the clients per session; 0 means unlimited.
	SessionClientCap int
	// OutboundQueueCap bounds each client's outbound packet queue.
	OutboundQueueCap int
	// DrainGrace bounds how long a leaving client's queue may keep
	// flushing before the handle is closed outright.
	DrainGrace time.Duration
	// ReapInterval is how often idle clients are swept.
	ReapInterval time.Duration
}

// Server is the relay core's single context object: registry, engine and
// instrumentation, constructed once at startup and passed to every task.
// There is no ambient global.
type Server struct {
	Registry *Registry
	Relay    *Relay
	Metrics  *metrics.Metrics

	opts Options
}

func NewServer(opts Options, m *metrics.Metrics) *Server {
	reg := NewRegistry(opts.SessionClientCap, opts.OutboundQueueCap, opts.DrainGrace, m)
	return &Server{
		Registry: reg,
		Relay:    NewRelay(reg, m),
		Metrics:  m,
		opts:     opts,
	}
}

func (s *Server) Options() Options { return s.opts }

// Run drives the heartbeat reaper until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ReapInterval)
	defer ticker.Stop()

	log.Info().Str("module", "app.server").
		Dur("heartbeat_timeout", s.opts.HeartbeatTimeout).
		Dur("reap_interval", s.opts.ReapInterval).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.server").Msg("reaper stopped")
			return
		case <-ticker.C:
			s.Registry.sweep(s.opts.HeartbeatTimeout)
		}
	}
}
