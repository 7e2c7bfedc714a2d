// Package transport owns the UDP sockets: the server's receive loop and
// per-client send loops, and the client-side session library.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/app"
	"github.com/quietroom/relay/internal/core"
	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/wire"
)

// Server drives one UDP socket for the whole relay: a single receive
// goroutine feeds the engine, and every joined client gets its own send
// goroutine draining its queue, so one unreachable recipient never stalls
// delivery to the rest.
type Server struct {
	core *app.Server

	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// fatal receives the first socket-level failure; the supervisor in
	// main decides whether to restart or shut down.
	fatal chan error
	once  sync.Once
}

func NewServer(core *app.Server) *Server {
	return &Server{
		core:  core,
		fatal: make(chan error, 1),
	}
}

// Start binds addr and launches the receive loop. The returned error only
// covers binding; runtime socket failures surface on Fatal().
func (s *Server) Start(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(ctx)

	log.Info().Str("module", "transport").
		Str("addr", conn.LocalAddr().String()).
		Msg("udp server listening")

	s.wg.Add(1)
	go s.receiveLoop()
	return nil
}

// Addr returns the bound socket address; useful when listening on :0.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Fatal delivers the first unrecoverable socket error, if any.
func (s *Server) Fatal() <-chan error {
	return s.fatal
}

// Stop closes the socket and waits for every task to exit.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wg.Wait()
	log.Info().Str("module", "transport").Msg("udp server stopped")
}

func (s *Server) fail(err error) {
	s.once.Do(func() {
		s.fatal <- err
		s.cancel()
	})
}

func (s *Server) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, wire.MaxDatagramSize+1)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// The socket itself is unusable; hand the supervisor a clear
			// signal and stop this task.
			log.Error().Err(err).Str("module", "transport").Msg("socket read failed")
			s.fail(fmt.Errorf("transport: read: %w", err))
			return
		}
		s.core.Metrics.PacketsReceived.Inc()

		data := make([]byte, n)
		copy(data, buf[:n])
		pkt, err := wire.Decode(data)
		if err != nil {
			s.core.Metrics.DecodeErrors.Inc()
			log.Debug().Err(err).Str("module", "transport").
				Str("from", addr.String()).
				Msg("dropping undecodable datagram")
			continue
		}

		if pkt.Kind == domain.KindControl {
			s.handleControl(pkt, addr)
			continue
		}

		// Media path. Track the sender's current address first; clients
		// may rebind ports mid-session.
		if sess, ok := s.core.Registry.Lookup(pkt.Session); ok {
			if h, ok := sess.Get(pkt.Sender); ok {
				h.SetAddr(addr)
			}
		}
		if err := s.core.Relay.OnPacket(pkt); err != nil {
			log.Debug().Err(err).Str("module", "transport").
				Str("kind", pkt.Kind.String()).
				Msg("packet dropped")
		}
	}
}

func (s *Server) handleControl(pkt domain.Packet, addr netip.AddrPort) {
	msg, err := wire.DecodeControl(pkt.Payload)
	if err != nil {
		s.core.Metrics.DecodeErrors.Inc()
		log.Debug().Err(err).Str("module", "transport").Msg("dropping bad control payload")
		return
	}

	switch msg.Op {
	case wire.OpJoin:
		s.handleJoin(pkt, addr)

	case wire.OpLeave:
		s.core.Registry.Leave(pkt.Session, pkt.Sender)

	case wire.OpHeartbeat:
		if sess, ok := s.core.Registry.Lookup(pkt.Session); ok {
			if h, ok := sess.Get(pkt.Sender); ok {
				h.MarkActive()
				h.Touch()
				h.SetAddr(addr)
			}
		}

	default:
		log.Debug().Str("module", "transport").
			Str("op", string(msg.Op)).
			Msg("dropping unknown control op")
	}
}

// handleJoin runs the server half of the join handshake: register the
// client, start its send task, and acknowledge through its own queue so
// the ack takes the same outbound path as everything else.
func (s *Server) handleJoin(pkt domain.Packet, addr netip.AddrPort) {
	h, err := s.core.Registry.Join(pkt.Session, pkt.Sender, addr)
	if err != nil {
		reason := ""
		switch {
		case errors.Is(err, domain.ErrSessionFull):
			reason = wire.ReasonSessionFull
		case errors.Is(err, domain.ErrDuplicateClient):
			reason = wire.ReasonDuplicateClient
		default:
			reason = err.Error()
		}
		s.writeControl(addr, pkt.Session, pkt.Sender, wire.ControlMsg{Op: wire.OpJoinErr, Reason: reason})
		return
	}

	s.startSendTask(h)

	ack := wire.ControlMsg{Op: wire.OpJoinAck, Client: h.ID.Bytes()}
	payload, err := wire.EncodeControl(ack)
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("encode join-ack")
		return
	}
	_, _ = h.Queue.Push(domain.Packet{
		Session: pkt.Session,
		Sender:  h.ID,
		Kind:    domain.KindControl,
		Payload: payload,
	})
}

// writeControl sends a control message straight to addr, bypassing any
// queue; used when no client handle exists (join rejections).
func (s *Server) writeControl(addr netip.AddrPort, sid domain.SessionID, cid domain.ClientID, msg wire.ControlMsg) {
	payload, err := wire.EncodeControl(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("encode control")
		return
	}
	data, err := wire.Encode(domain.Packet{
		Session: sid,
		Sender:  cid,
		Kind:    domain.KindControl,
		Payload: payload,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("encode control packet")
		return
	}
	if _, err := s.conn.WriteToUDPAddrPort(data, addr); err != nil {
		s.core.Metrics.SendErrors.Inc()
		log.Warn().Err(err).Str("module", "transport").Str("to", addr.String()).Msg("control write failed")
	}
}

// startSendTask launches the dedicated goroutine that drains h's queue
// onto the socket. Closing the handle cancels the task; the task closes
// the handle once the queue is flushed.
func (s *Server) startSendTask(h *core.ClientHandle) {
	ctx, cancel := context.WithCancel(s.ctx)
	h.BindSendTask(cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.Close()

		for {
			pkt, err := h.Queue.Pop(ctx)
			if err != nil {
				return
			}
			data, err := wire.Encode(pkt)
			if err != nil {
				log.Error().Err(err).Str("module", "transport").
					Str("client", h.ID.String()).
					Msg("encode outbound packet")
				continue
			}
			if _, err := s.conn.WriteToUDPAddrPort(data, h.Addr()); err != nil {
				s.core.Metrics.SendErrors.Inc()
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				// Transient write failure: the packet is dropped, not
				// retried. Retried voice is stale voice.
				log.Warn().Err(err).Str("module", "transport").
					Str("client", h.ID.String()).
					Msg("write failed, packet dropped")
				continue
			}
			s.core.Metrics.BytesSent.Add(float64(len(data)))
		}
	}()
}
