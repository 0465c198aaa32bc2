package bus

import "demobroker/internal/frame"

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventPeerJoined is emitted by the server when a peer connects.
	EventPeerJoined EventKind = iota + 1
	// EventPeerLeft is emitted by the server once per peer when it is gone.
	EventPeerLeft
	// EventMessage carries one decoded frame.
	EventMessage
	// EventDecodeError carries a frame the server could not decode.
	EventDecodeError
	// EventConnected is emitted by the client after the queue is flushed.
	EventConnected
	// EventDisconnected is emitted by the client when its connection ends.
	EventDisconnected
	// EventError carries a client-side connect or decode failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPeerJoined:
		return "peer_joined"
	case EventPeerLeft:
		return "peer_left"
	case EventMessage:
		return "message"
	case EventDecodeError:
		return "decode_error"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on the Events channel of a Server or Client. Events from
// one connection arrive in the order they happened on that connection.
type Event struct {
	Kind    EventKind
	PeerID  string
	Message frame.Message
	Err     error
}
