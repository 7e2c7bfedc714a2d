package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietroom/relay/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := domain.Packet{
		Session: domain.NewSessionID(),
		Sender:  domain.NewClientID(),
		Seq:     42,
		Kind:    domain.KindVoice,
		Payload: []byte("opus frame bytes"),
	}

	data, err := Encode(p)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxDatagramSize)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p.Session, got.Session)
	assert.Equal(t, p.Sender, got.Sender)
	assert.Equal(t, p.Seq, got.Seq)
	assert.Equal(t, p.Kind, got.Kind)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestEncodeIsDeterministic(t *testing.T) {
	p := domain.Packet{
		Session: domain.NewSessionID(),
		Sender:  domain.NewClientID(),
		Seq:     7,
		Kind:    domain.KindVideo,
		Payload: []byte{1, 2, 3},
	}
	a, err := Encode(p)
	require.NoError(t, err)
	b, err := Encode(p)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	p := domain.Packet{
		Session: domain.NewSessionID(),
		Sender:  domain.NewClientID(),
		Kind:    domain.KindVoice,
		Payload: make([]byte, MaxPayloadSize+1),
	}
	_, err := Encode(p)
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestEncodeRejectsInvalidKind(t *testing.T) {
	p := domain.Packet{
		Session: domain.NewSessionID(),
		Sender:  domain.NewClientID(),
		Kind:    domain.Kind(0),
	}
	_, err := Encode(p)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestDecodeUnknownKind(t *testing.T) {
	env := envelope{
		Session: domain.NewSessionID().Bytes(),
		Sender:  domain.NewClientID().Bytes(),
		Seq:     1,
		Kind:    99,
		Payload: []byte("whatever"),
	}
	data, err := encMode.Marshal(env)
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestDecodeMalformedHeader(t *testing.T) {
	cases := map[string][]byte{
		"empty":        {},
		"garbage":      {0xff, 0x00, 0xde, 0xad},
		"not a map":    {0x01}, // CBOR unsigned int 1
		"truncated":    {0xa5, 0x61},
		"short ids":    mustMarshal(t, envelope{Session: []byte{1, 2}, Sender: []byte{3}, Kind: 1}),
		"missing keys": mustMarshal(t, map[string]any{"q": 1}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, domain.ErrMalformedHeader)
		})
	}
}

func TestDecodeRejectsOversizedDatagram(t *testing.T) {
	_, err := Decode(make([]byte, MaxDatagramSize+1))
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestControlRoundTrip(t *testing.T) {
	id := domain.NewClientID()
	payload, err := EncodeControl(ControlMsg{Op: OpJoinAck, Client: id.Bytes()})
	require.NoError(t, err)

	msg, err := DecodeControl(payload)
	require.NoError(t, err)
	assert.Equal(t, OpJoinAck, msg.Op)
	got, ok := domain.ClientIDFromBytes(msg.Client)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestDecodeControlRejectsMissingOp(t *testing.T) {
	payload, err := EncodeControl(ControlMsg{})
	require.NoError(t, err)
	_, err = DecodeControl(payload)
	assert.ErrorIs(t, err, domain.ErrMalformedHeader)
}

func TestPassthroughCodec(t *testing.T) {
	var codec MediaCodec = Passthrough{}
	samples := []byte{9, 8, 7}

	out, err := codec.Compress(domain.KindVoice, samples)
	require.NoError(t, err)
	assert.Equal(t, samples, out)

	back, err := codec.Decompress(domain.KindVoice, out)
	require.NoError(t, err)
	assert.Equal(t, samples, back)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := encMode.Marshal(v)
	require.NoError(t, err)
	return data
}
