package domain

// Kind discriminates what a packet's payload carries.
type Kind uint8

const (
	KindVoice Kind = iota + 1
	KindVideo
	KindControl
)

func (k Kind) Valid() bool {
	switch k {
	case KindVoice, KindVideo, KindControl:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindVideo:
		return "video"
	case KindControl:
		return "control"
	}
	return "unknown"
}

// Packet is one decoded datagram. Payload bytes are opaque to the core;
// only the media collaborator interprets them.
type Packet struct {
	Session SessionID
	Sender  ClientID
	Seq     uint64
	Kind    Kind
	Payload []byte
}
