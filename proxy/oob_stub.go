//go:build !linux

package proxy

import (
	"context"
	"net"

	"github.com/mapitools/mapiproxy/event"
)

// Urgent data relay needs MSG_OOB and POLLPRI, only wired up on Linux.
const oobSupported = false

func (s *session) relayOOB(context.Context, *net.TCPConn, *net.TCPConn, event.Direction) {}
