package amcp

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNetwork  = errors.New("amcp: transport failure")
	ErrRemote   = errors.New("amcp: remote returned error status")
	ErrProtocol = errors.New("amcp: malformed reply")
	ErrClosed   = errors.New("amcp: connection closed")
)

// NetworkError wraps a transport-level failure. The connection enters its
// reconnect loop after surfacing one of these.
type NetworkError struct {
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("amcp: %s: transport failure: %v", e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }

// RemoteError is a protocol-level failure reported by the engine. The
// connection stays up; the command simply did not take.
type RemoteError struct {
	Addr    string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("amcp: %s: %d %s", e.Addr, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// ProtocolError means the reply stream could not be parsed. The connection
// is assumed desynchronized and is dropped and redialed.
type ProtocolError struct {
	Addr string
	Line string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("amcp: %s: malformed reply %q", e.Addr, e.Line)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
