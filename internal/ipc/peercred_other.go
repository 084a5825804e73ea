//go:build !linux

package ipc

import (
	"errors"
	"net"
)

// PeerCredentials is the kernel-reported identity of the connecting process.
type PeerCredentials struct {
	PID int
	UID uint32
	GID uint32
}

func peerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("ipc: peer credentials not supported on this platform")
}
