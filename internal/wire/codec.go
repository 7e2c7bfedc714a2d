// Package wire converts raw datagrams to and from typed packets. The
// envelope is a compact self-describing CBOR map; payload bytes travel
// through untouched.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/quietroom/relay/internal/domain"
)

const (
	// MaxDatagramSize keeps packets under a single MTU so datagrams are
	// never fragmented in flight.
	MaxDatagramSize = 1300

	// envelopeOverhead is the worst-case size of the CBOR envelope around
	// the payload: map framing, the two 16-byte ids, a full-width
	// sequence number, the kind, and the payload's byte-string header.
	envelopeOverhead = 64

	// MaxPayloadSize is the largest payload Encode accepts and Decode
	// admits.
	MaxPayloadSize = MaxDatagramSize - envelopeOverhead
)

// encMode uses Core Deterministic Encoding: same packet, same bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown map keys so older
// servers tolerate newer clients.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the on-the-wire header/payload map. Single-letter keys keep
// the fixed overhead small relative to voice frames.
type envelope struct {
	Session []byte `cbor:"s"`
	Sender  []byte `cbor:"c"`
	Seq     uint64 `cbor:"q"`
	Kind    uint8  `cbor:"k"`
	Payload []byte `cbor:"p"`
}

// Encode serializes p into a datagram.
func Encode(p domain.Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrPayloadTooLarge, len(p.Payload), MaxPayloadSize)
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownKind, uint8(p.Kind))
	}
	env := envelope{
		Session: p.Session.Bytes(),
		Sender:  p.Sender.Bytes(),
		Seq:     p.Seq,
		Kind:    uint8(p.Kind),
		Payload: p.Payload,
	}
	return encMode.Marshal(env)
}

// Decode parses a received datagram into a Packet. Every failure is a
// typed error; attacker-controlled input can never panic this path.
func Decode(data []byte) (domain.Packet, error) {
	if len(data) > MaxDatagramSize {
		return domain.Packet{}, fmt.Errorf("%w: datagram is %d bytes", domain.ErrPayloadTooLarge, len(data))
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return domain.Packet{}, fmt.Errorf("%w: %v", domain.ErrMalformedHeader, err)
	}
	sid, ok := domain.SessionIDFromBytes(env.Session)
	if !ok {
		return domain.Packet{}, fmt.Errorf("%w: session id is %d bytes", domain.ErrMalformedHeader, len(env.Session))
	}
	cid, ok := domain.ClientIDFromBytes(env.Sender)
	if !ok {
		return domain.Packet{}, fmt.Errorf("%w: sender id is %d bytes", domain.ErrMalformedHeader, len(env.Sender))
	}
	kind := domain.Kind(env.Kind)
	if !kind.Valid() {
		return domain.Packet{}, fmt.Errorf("%w: %d", domain.ErrUnknownKind, env.Kind)
	}
	if len(env.Payload) > MaxPayloadSize {
		return domain.Packet{}, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrPayloadTooLarge, len(env.Payload), MaxPayloadSize)
	}
	return domain.Packet{
		Session: sid,
		Sender:  cid,
		Seq:     env.Seq,
		Kind:    kind,
		Payload: env.Payload,
	}, nil
}
