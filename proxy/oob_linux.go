//go:build linux

package proxy

import (
	"context"
	"net"

	slog "github.com/vearne/simplelog"
	"golang.org/x/sys/unix"

	"github.com/mapitools/mapiproxy/event"
)

const oobSupported = true

const oobPollMillis = 500

// relayOOB watches src for TCP urgent data and passes each byte to dst
// out of band. Urgent bytes travel outside the normal stream, so this
// runs beside the regular forwarding goroutine for the same direction.
func (s *session) relayOOB(ctx context.Context, src, dst *net.TCPConn, dir event.Direction) {
	srcFd, ok := connFd(src)
	if !ok {
		return
	}
	defer unix.Close(srcFd)
	dstFd, ok := connFd(dst)
	if !ok {
		return
	}
	defer unix.Close(dstFd)

	var b [1]byte
	for ctx.Err() == nil {
		fds := []unix.PollFd{{Fd: int32(srcFd), Events: unix.POLLPRI}}
		n, err := unix.Poll(fds, oobPollMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return
		}
		if fds[0].Revents&unix.POLLPRI == 0 {
			continue
		}

		n, _, err = unix.Recvfrom(srcFd, b[:], unix.MSG_OOB)
		if err != nil || n != 1 {
			// Raised POLLPRI without a pending urgent byte,
			// or the socket went away.
			continue
		}
		s.p.emit(event.Oob{ID: s.id, Dir: dir, Byte: b[0]})
		if err := unix.Send(dstFd, b[:1], unix.MSG_OOB); err != nil {
			slog.Debug("session %v (%s): forward urgent byte %s: %v", s.id, s.trace, dir, err)
			return
		}
	}
}

// connFd duplicates the connection's descriptor. The raw descriptor is
// only valid inside Control, and the conn may be closed while the relay
// is still polling; the caller owns the duplicate and closes it.
func connFd(conn *net.TCPConn) (int, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, false
	}
	fd := -1
	raw.Control(func(f uintptr) {
		if d, derr := unix.FcntlInt(f, unix.F_DUPFD_CLOEXEC, 0); derr == nil {
			fd = d
		}
	})
	return fd, fd >= 0
}
