package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPeers is returned by Broadcast when nobody is connected.
	ErrNoPeers = errors.New("no bus peers connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus closed")
	// ErrQueueFull is returned by Client.Send when the outbound queue limit is reached.
	ErrQueueFull = errors.New("bus client send queue full")
	// ErrPeerBacklog is the WriteError cause for a peer that stopped draining
	// its outbound queue.
	ErrPeerBacklog = errors.New("peer outbound queue full")
)

// BindError reports that the server could not acquire its socket. It is the
// only fatal bus condition.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind bus socket %s: %v", e.Path, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectError reports a failed client connection attempt. Another attempt is
// always scheduled.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect bus socket %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a write that failed for one peer. That peer is dropped.
type WriteError struct {
	PeerID string
	Err    error
}

func (e *WriteError) Error() string {
	if e.PeerID == "" {
		return fmt.Sprintf("bus write: %v", e.Err)
	}
	return fmt.Sprintf("bus write to peer %s: %v", e.PeerID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
