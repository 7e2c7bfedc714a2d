package domain

import "errors"

var (
	// ErrSessionFull is returned by join when the per-session client cap
	// would be exceeded.
	ErrSessionFull = errors.New("session full")

	// ErrDuplicateClient is returned by join when the requested client id
	// already exists in the session.
	ErrDuplicateClient = errors.New("duplicate client id")

	// ErrUnknownSession is returned by the relay when a packet names a
	// session that does not exist. Non-fatal; the packet is dropped.
	ErrUnknownSession = errors.New("unknown session")

	// ErrMalformedHeader is returned by the wire codec for datagrams whose
	// envelope cannot be decoded.
	ErrMalformedHeader = errors.New("malformed packet header")

	// ErrUnknownKind is returned by the wire codec for an unrecognized kind
	// discriminator.
	ErrUnknownKind = errors.New("unknown packet kind")

	// ErrPayloadTooLarge is returned by the wire codec when a payload
	// would not fit in a single unfragmented datagram.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrClientClosed is returned when enqueueing to a client handle whose
	// lifecycle has already reached Closed.
	ErrClientClosed = errors.New("client closed")
)
