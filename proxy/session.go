package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	slog "github.com/vearne/simplelog"

	"github.com/mapitools/mapiproxy/event"
)

const copyBufSize = 8192

// session relays one client connection to the forward endpoint. A
// goroutine per direction reads, reports the bytes and writes them on.
type session struct {
	p      *Proxy
	id     event.ConnID
	trace  string
	client net.Conn
	server net.Conn

	aborted  atomic.Bool
	abortOne sync.Once
}

func (p *Proxy) runSession(ctx context.Context, id event.ConnID, client net.Conn, clientUnix bool) {
	defer p.wg.Done()

	s := &session{p: p, id: id, trace: uuid.NewString(), client: client}
	slog.Debug("session %v (%s): accepted from %s", id, s.trace, peerName(client))

	server, serverUnix, ok := s.dial(ctx)
	if !ok {
		client.Close()
		return
	}
	s.server = server

	tuneConn(client)
	tuneConn(server)

	// A cancelled run closes both sockets, which unblocks the
	// forwarding reads below.
	stop := context.AfterFunc(ctx, func() {
		client.Close()
		server.Close()
	})
	defer stop()

	var hello *helloCorrector
	if mode := helloMode(clientUnix, serverUnix); mode != helloNone {
		hello = &helloCorrector{mode: mode}
	}

	// OOB relay goroutines must emit no events after the session
	// finishes. They poll duplicated descriptors, so they outlast the
	// conns safely and stop on the session-scoped cancel below.
	oobCtx, oobCancel := context.WithCancel(ctx)
	defer oobCancel()
	var oobWg sync.WaitGroup
	if s.p.oob {
		if ct, cok := client.(*net.TCPConn); cok {
			if st, sok := server.(*net.TCPConn); sok {
				oobWg.Add(2)
				go func() {
					defer oobWg.Done()
					s.relayOOB(oobCtx, ct, st, event.Upstream)
				}()
				go func() {
					defer oobWg.Done()
					s.relayOOB(oobCtx, st, ct, event.Downstream)
				}()
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.forward(client, server, event.Upstream, hello)
	}()
	go func() {
		defer wg.Done()
		s.forward(server, client, event.Downstream, nil)
	}()
	wg.Wait()

	oobCancel()
	client.Close()
	server.Close()
	oobWg.Wait()
	if !s.aborted.Load() {
		s.p.emit(event.End{ID: id})
	}
	slog.Debug("session %v (%s): finished", id, s.trace)
}

// dial tries the resolved forward addresses in order. Each attempt is
// reported; the session only starts when one of them connects.
func (s *session) dial(ctx context.Context) (net.Conn, bool, bool) {
	addrs, err := s.p.forward.Resolve()
	if err != nil {
		s.p.emit(event.ConnectFailed{ID: s.id, Remote: s.p.forward.String(), Err: err})
		s.p.emit(event.Aborted{ID: s.id, Err: err})
		return nil, false, false
	}

	var dialer net.Dialer
	var lastErr error
	for _, a := range addrs {
		s.p.emit(event.Connecting{ID: s.id, Remote: a.String()})
		conn, err := dialer.DialContext(ctx, a.Network(), a.Target())
		if err != nil {
			lastErr = err
			s.p.emit(event.ConnectFailed{ID: s.id, Remote: a.String(), Err: err})
			continue
		}
		s.p.emit(event.Connected{ID: s.id, Remote: a.String()})
		return conn, a.IsUnix(), true
	}

	s.p.emit(event.Aborted{ID: s.id, Err: lastErr})
	return nil, false, false
}

// forward relays src to dst until EOF or error. When dst stops
// accepting writes the reads continue so the traffic still renders,
// with the discarded byte count reported at the end.
func (s *session) forward(src, dst net.Conn, dir event.Direction, hello *helloCorrector) {
	buf := make([]byte, copyBufSize)
	discarding := false
	discarded := 0

	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			// Events outlive buf, and the handler runs on
			// another goroutine.
			shown := make([]byte, n)
			copy(shown, chunk)
			s.p.emit(event.Data{ID: s.id, Dir: dir, Data: shown})

			out := chunk
			if hello != nil {
				out = hello.apply(out)
			}
			if discarding {
				discarded += len(out)
			} else if len(out) > 0 {
				if _, werr := dst.Write(out); werr != nil {
					if s.aborted.Load() {
						return
					}
					slog.Debug("session %v (%s): write %s: %v", s.id, s.trace, dir, werr)
					discarding = true
					discarded += len(out)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.p.emit(event.ShutdownRead{ID: s.id, Dir: dir})
				if discarding {
					s.p.emit(event.ShutdownWrite{ID: s.id, Dir: dir, Discard: discarded})
				}
				closeWrite(dst)
				return
			}
			s.abort(err)
			return
		}
	}
}

func (s *session) abort(err error) {
	if errors.Is(err, net.ErrClosed) {
		// Shutdown or the peer goroutine already tore the
		// session down.
		s.aborted.Store(true)
		return
	}
	s.abortOne.Do(func() {
		s.aborted.Store(true)
		s.p.emit(event.Aborted{ID: s.id, Err: err})
		s.client.Close()
		s.server.Close()
	})
}

func tuneConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}

// closeWrite propagates a half-close so the peer sees EOF while its own
// sending side stays open.
func closeWrite(conn net.Conn) {
	switch c := conn.(type) {
	case *net.TCPConn:
		c.CloseWrite()
	case *net.UnixConn:
		c.CloseWrite()
	default:
		c.Close()
	}
}

type helloCorrectionMode uint8

const (
	helloNone helloCorrectionMode = iota
	helloStrip
	helloInsert
)

// helloCorrector reconciles the extra byte Unix socket clients send
// before their first block. It runs at most once, on the first
// non-empty upstream chunk, after the bytes have been reported for
// rendering.
type helloCorrector struct {
	mode helloCorrectionMode
	done bool
}

func helloMode(clientUnix, serverUnix bool) helloCorrectionMode {
	switch {
	case clientUnix && !serverUnix:
		return helloStrip
	case !clientUnix && serverUnix:
		return helloInsert
	default:
		return helloNone
	}
}

func (h *helloCorrector) apply(p []byte) []byte {
	if h.done || len(p) == 0 {
		return p
	}
	h.done = true
	switch h.mode {
	case helloStrip:
		if p[0] >= '0' && p[0] <= '9' {
			return p[1:]
		}
		return p
	case helloInsert:
		out := make([]byte, 0, len(p)+1)
		out = append(out, '0')
		return append(out, p...)
	default:
		return p
	}
}
