// Package proxy accepts MAPI clients, dials the forward endpoint and
// relays bytes in both directions while emitting every observation as an
// event. All decoding and rendering happens in the single event handler
// goroutine, so per-connection work stays free of shared state.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	slog "github.com/vearne/simplelog"

	"github.com/mapitools/mapiproxy/addr"
	"github.com/mapitools/mapiproxy/event"
)

const eventBacklog = 512

// Proxy is the live traffic source.
type Proxy struct {
	listen  addr.MonetAddr
	forward addr.MonetAddr
	oob     bool

	events chan timedEvent
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

type timedEvent struct {
	ts time.Time
	ev event.Event
}

// New creates a proxy between two parsed endpoints. When oob is set,
// TCP urgent data is relayed between session sockets where the platform
// supports it.
func New(listen, forward addr.MonetAddr, oob bool) *Proxy {
	return &Proxy{
		listen:  listen,
		forward: forward,
		oob:     oob && oobSupported,
		events:  make(chan timedEvent, eventBacklog),
	}
}

// Run binds the listen endpoint, serves until ctx is cancelled and calls
// handler for every event. It returns after all sessions finished and
// every Unix socket file has been removed. Bind failures are returned
// before any event is delivered.
func (p *Proxy) Run(ctx context.Context, handler event.Handler) error {
	addrs, err := p.listen.Resolve()
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.listen, err)
	}

	listeners, cleanup, err := bindAll(addrs)
	if err != nil {
		return err
	}
	defer cleanup()

	ictx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, lis := range listeners {
		p.emit(event.BoundPort{Addr: describeListener(lis)})
		p.wg.Add(1)
		go p.acceptLoop(ictx, lis)
	}

	// Closing the listeners unblocks the accept loops; live sessions
	// are shut down through the context.
	stop := context.AfterFunc(ictx, func() {
		for _, lis := range listeners {
			lis.Close()
		}
	})
	defer stop()

	go func() {
		p.wg.Wait()
		close(p.events)
	}()

	var handlerErr error
	for t := range p.events {
		if err := handler(t.ts, t.ev); err != nil {
			if handlerErr == nil {
				handlerErr = err
			}
			cancel()
		}
	}
	return handlerErr
}

func (p *Proxy) emit(ev event.Event) {
	p.events <- timedEvent{ts: time.Now(), ev: ev}
}

func (p *Proxy) acceptLoop(ctx context.Context, lis net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept on %v: %v", lis.Addr(), err)
			return
		}

		id := event.ConnID(p.nextID.Add(1))
		_, clientUnix := conn.(*net.UnixConn)
		p.emit(event.Incoming{
			ID:         id,
			Local:      lis.Addr().String(),
			Peer:       peerName(conn),
			PeerIsUnix: clientUnix,
		})

		p.wg.Add(1)
		go p.runSession(ctx, id, conn, clientUnix)
	}
}

// bindAll opens a listener per resolved address. A stale Unix socket
// file is removed and the bind retried once. At least one listener must
// succeed.
func bindAll(addrs []addr.Addr) ([]net.Listener, func(), error) {
	var listeners []net.Listener
	var unixPaths []string
	var firstErr error

	for _, a := range addrs {
		lis, err := net.Listen(a.Network(), a.Target())
		if err != nil && a.IsUnix() && isAddrInUse(err) {
			if rmErr := os.Remove(a.Target()); rmErr == nil {
				lis, err = net.Listen(a.Network(), a.Target())
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("bind %s: %w", a, err)
			}
			slog.Warn("bind %s: %v", a, err)
			continue
		}
		if a.IsUnix() {
			unixPaths = append(unixPaths, a.Target())
		}
		listeners = append(listeners, lis)
	}

	cleanup := func() {
		for _, lis := range listeners {
			lis.Close()
		}
		for _, path := range unixPaths {
			os.Remove(path)
		}
	}

	if len(listeners) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("no addresses to bind for %v", addrs)
		}
		return nil, nil, firstErr
	}
	return listeners, cleanup, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func describeListener(lis net.Listener) string {
	return lis.Addr().String()
}

func peerName(conn net.Conn) string {
	s := conn.RemoteAddr().String()
	if s == "" || s == "@" {
		return "<unix client>"
	}
	return s
}
