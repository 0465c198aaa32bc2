//go:build !linux

package bus

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (peerCred, error) {
	return peerCred{}, errors.New("peer credentials unsupported on this platform")
}
