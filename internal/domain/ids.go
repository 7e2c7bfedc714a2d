// Package domain contains the value types shared across the relay core.
package domain

import "github.com/google/uuid"

// ClientID is the 128-bit random token assigned to a client at join time.
// It is never reused within a session's lifetime.
type ClientID uuid.UUID

// SessionID identifies a logical call/room.
type SessionID uuid.UUID

// NewClientID returns a fresh random ClientID.
func NewClientID() ClientID {
	return ClientID(uuid.New())
}

// NewSessionID returns a fresh random SessionID.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func (id ClientID) String() string { return uuid.UUID(id).String() }

func (id ClientID) IsZero() bool { return id == ClientID(uuid.Nil) }

func (id ClientID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsZero() bool { return id == SessionID(uuid.Nil) }

func (id SessionID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

// ParseSessionID parses the canonical string form of a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

// ClientIDFromBytes rebuilds a ClientID from its 16-byte wire form.
func ClientIDFromBytes(b []byte) (ClientID, bool) {
	if len(b) != 16 {
		return ClientID{}, false
	}
	var id ClientID
	copy(id[:], b)
	return id, true
}

// SessionIDFromBytes rebuilds a SessionID from its 16-byte wire form.
func SessionIDFromBytes(b []byte) (SessionID, bool) {
	if len(b) != 16 {
		return SessionID{}, false
	}
	var id SessionID
	copy(id[:], b)
	return id, true
}
