package wire

import (
	"fmt"

	"github.com/quietroom/relay/internal/domain"
)

// ControlOp names a control-plane operation carried in a Control packet's
// payload.
type ControlOp string

const (
	OpJoin      ControlOp = "join"
	OpJoinAck   ControlOp = "join-ack"
	OpJoinErr   ControlOp = "join-err"
	OpLeave     ControlOp = "leave"
	OpHeartbeat ControlOp = "heartbeat"
)

// Join failure reasons carried on the wire.
const (
	ReasonSessionFull     = "session-full"
	ReasonDuplicateClient = "duplicate-client"
)

// ControlMsg is the CBOR payload of a Control packet: the join handshake,
// explicit leaves and heartbeats.
type ControlMsg struct {
	Op     ControlOp `cbor:"op"`
	Client []byte    `cbor:"cid,omitempty"` // assigned id in a join-ack
	Reason string    `cbor:"rsn,omitempty"` // failure reason in a join-err
}

// EncodeControl serializes a control message payload.
func EncodeControl(msg ControlMsg) ([]byte, error) {
	return encMode.Marshal(msg)
}

// DecodeControl parses a Control packet's payload.
func DecodeControl(payload []byte) (ControlMsg, error) {
	var msg ControlMsg
	if err := decMode.Unmarshal(payload, &msg); err != nil {
		return ControlMsg{}, fmt.Errorf("%w: control payload: %v", domain.ErrMalformedHeader, err)
	}
	if msg.Op == "" {
		return ControlMsg{}, fmt.Errorf("%w: control payload missing op", domain.ErrMalformedHeader)
	}
	return msg, nil
}
