package tcp

import "errors"

// Sentinel errors returned by Client.Send (C1), matching spec.md §4.1.
var (
	// ErrTimeout is returned when the read deadline elapses before a
	// complete JSON value can be decoded from the connection.
	ErrTimeout = errors.New("tcp: read deadline exceeded before a decodable value arrived")
	// ErrConnection is returned on socket loss (dial failure, reset, etc).
	ErrConnection = errors.New("tcp: connection lost")
	// ErrProtocol is returned when the peer closes the connection (EOF)
	// before a decodable JSON value has arrived.
	ErrProtocol = errors.New("tcp: peer closed before a decodable value arrived")
)
