package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quietroom/relay/internal/domain"
	"github.com/quietroom/relay/internal/wire"
)

// DialOptions tune the client-side session. Zero values get defaults.
type DialOptions struct {
	// DesiredID asks the server for a specific client id; zero lets the
	// server assign a fresh random one.
	DesiredID domain.ClientID
	// HeartbeatInterval is how often the client pings while idle.
	HeartbeatInterval time.Duration
	// HandshakeTimeout bounds the join round-trip.
	HandshakeTimeout time.Duration
	// RecvBuffer is the capacity of the inbound packet channel.
	RecvBuffer int
}

const (
	defaultHeartbeatInterval = 2 * time.Second
	defaultHandshakeTimeout  = 5 * time.Second
	defaultRecvBuffer        = 255
)

// Client is one participant's view of a session: a connected UDP socket,
// the id the server assigned, a per-sender sequence counter and a channel
// of inbound packets. A reconnect is a new Dial and therefore a new id.
type Client struct {
	session domain.SessionID
	id      domain.ClientID

	conn *net.UDPConn
	seq  atomic.Uint64

	inbound chan domain.Packet

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial binds an ephemeral UDP socket, connects to the server and runs the
// join handshake for the given session. On success the client is Active:
// packets flow on Recv() and heartbeats tick in the background.
func Dial(ctx context.Context, serverAddr string, session domain.SessionID, opts DialOptions) (*Client, error) {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.RecvBuffer <= 0 {
		opts.RecvBuffer = defaultRecvBuffer
	}

	raddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %q: %w", serverAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %q: %w", serverAddr, err)
	}

	c := &Client{
		session: session,
		conn:    conn,
		inbound: make(chan domain.Packet, opts.RecvBuffer),
	}

	if err := c.handshake(opts); err != nil {
		_ = conn.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go c.recvLoop(runCtx)
	go c.heartbeatLoop(runCtx, opts.HeartbeatInterval)

	log.Info().Str("module", "transport.client").
		Str("session", session.String()).
		Str("client", c.id.String()).
		Msg("joined session")
	return c, nil
}

// handshake sends the join request and waits for the ack carrying our
// assigned id. Non-control datagrams arriving early are ignored; the
// server only relays to us after the join anyway.
func (c *Client) handshake(opts DialOptions) error {
	payload, err := wire.EncodeControl(wire.ControlMsg{Op: wire.OpJoin})
	if err != nil {
		return fmt.Errorf("client: encode join: %w", err)
	}
	join, err := wire.Encode(domain.Packet{
		Session: c.session,
		Sender:  opts.DesiredID,
		Kind:    domain.KindControl,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("client: encode join packet: %w", err)
	}
	if _, err := c.conn.Write(join); err != nil {
		return fmt.Errorf("client: send join: %w", err)
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("client: set handshake deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, wire.MaxDatagramSize+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("client: join handshake: %w", err)
		}
		pkt, err := wire.Decode(buf[:n])
		if err != nil || pkt.Kind != domain.KindControl {
			continue
		}
		msg, err := wire.DecodeControl(pkt.Payload)
		if err != nil {
			continue
		}
		switch msg.Op {
		case wire.OpJoinAck:
			id, ok := domain.ClientIDFromBytes(msg.Client)
			if !ok {
				return fmt.Errorf("client: join-ack: %w", domain.ErrMalformedHeader)
			}
			c.id = id
			return nil
		case wire.OpJoinErr:
			switch msg.Reason {
			case wire.ReasonSessionFull:
				return fmt.Errorf("client: join rejected: %w", domain.ErrSessionFull)
			case wire.ReasonDuplicateClient:
				return fmt.Errorf("client: join rejected: %w", domain.ErrDuplicateClient)
			default:
				return fmt.Errorf("client: join rejected: %s", msg.Reason)
			}
		}
	}
}

// ID returns the server-assigned client id.
func (c *Client) ID() domain.ClientID { return c.id }

// Session returns the session this client joined.
func (c *Client) Session() domain.SessionID { return c.session }

// Recv is the inbound packet stream. It is closed when the client stops.
// Receivers use Seq for jitter and loss accounting only; gaps are normal.
func (c *Client) Recv() <-chan domain.Packet { return c.inbound }

// Send relays an opaque payload of the given kind to the rest of the
// session. Sequence numbers increase monotonically per sender and wrap.
func (c *Client) Send(kind domain.Kind, payload []byte) error {
	data, err := wire.Encode(domain.Packet{
		Session: c.session,
		Sender:  c.id,
		Seq:     c.seq.Add(1),
		Kind:    kind,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("client: encode: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Leave tells the server we are gone, then closes. The leave itself rides
// an unreliable datagram; the server's heartbeat timeout is the backstop.
func (c *Client) Leave() error {
	payload, err := wire.EncodeControl(wire.ControlMsg{Op: wire.OpLeave})
	if err == nil {
		var data []byte
		data, err = wire.Encode(domain.Packet{
			Session: c.session,
			Sender:  c.id,
			Kind:    domain.KindControl,
			Payload: payload,
		})
		if err == nil {
			_, err = c.conn.Write(data)
		}
	}
	c.Close()
	return err
}

// Close stops the background loops and releases the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.conn.Close()
		c.wg.Wait()
	})
}

func (c *Client) recvLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.inbound)

	buf := make([]byte, wire.MaxDatagramSize+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Str("module", "transport.client").Msg("socket read failed")
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		pkt, err := wire.Decode(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "transport.client").Msg("dropping undecodable datagram")
			continue
		}
		if pkt.Kind == domain.KindControl {
			// Server-side control noise is not application traffic.
			continue
		}
		select {
		case c.inbound <- pkt:
		default:
			// Receiver is not keeping up; drop rather than block the socket.
			log.Debug().Str("module", "transport.client").Msg("inbound buffer full, packet dropped")
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	payload, err := wire.EncodeControl(wire.ControlMsg{Op: wire.OpHeartbeat})
	if err != nil {
		log.Error().Err(err).Str("module", "transport.client").Msg("encode heartbeat")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := wire.Encode(domain.Packet{
				Session: c.session,
				Sender:  c.id,
				Kind:    domain.KindControl,
				Payload: payload,
			})
			if err != nil {
				continue
			}
			if _, err := c.conn.Write(data); err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn().Err(err).Str("module", "transport.client").Msg("heartbeat write failed")
			}
		}
	}
}
