package bus

// peerCred identifies the process on the other end of an accepted socket.
type peerCred struct {
	PID int
	UID int
	GID int
}

func (c peerCred) known() bool {
	return c.PID > 0
}
