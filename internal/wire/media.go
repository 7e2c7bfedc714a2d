package wire

import "github.com/quietroom/relay/internal/domain"

// MediaCodec is the external collaborator that turns raw samples into
// compressed payload bytes and back. The relay core never interprets
// payloads itself; any implementation with this shape can be plugged in.
type MediaCodec interface {
	Compress(kind domain.Kind, samples []byte) ([]byte, error)
	Decompress(kind domain.Kind, data []byte) ([]byte, error)
}

// Passthrough is the identity MediaCodec: payload bytes are already in
// their final form. Useful for control traffic and tests.
type Passthrough struct{}

func (Passthrough) Compress(_ domain.Kind, samples []byte) ([]byte, error) {
	return samples, nil
}

func (Passthrough) Decompress(_ domain.Kind, data []byte) ([]byte, error) {
	return data, nil
}
