package mapi

import (
	"fmt"
	"time"

	"github.com/mapitools/mapiproxy/event"
	"github.com/mapitools/mapiproxy/render"
)

// State routes timestamped events to per-connection accumulator pairs.
// It is the single consumer of the event stream; live proxying and pcap
// replay feed it identically.
type State struct {
	level       Level
	forceBinary bool
	conns       map[event.ConnID]*pipelines
}

type pipelines struct {
	up   *Accumulator
	down *Accumulator
}

// NewState creates the event handler state for the chosen dump level.
func NewState(level Level, forceBinary bool) *State {
	return &State{
		level:       level,
		forceBinary: forceBinary,
		conns:       make(map[event.ConnID]*pipelines),
	}
}

// Handler binds the state to a renderer as an event.Handler.
func (s *State) Handler(r *render.Renderer) event.Handler {
	return func(ts time.Time, ev event.Event) error {
		return s.Handle(ts, ev, r)
	}
}

// Handle renders one event.
func (s *State) Handle(ts time.Time, ev event.Event, r *render.Renderer) error {
	r.Timestamp(ts)

	switch e := ev.(type) {
	case event.BoundPort:
		return r.Message(render.NoContext(), "LISTEN on %s", e.Addr)

	case event.Incoming:
		if err := r.Message(render.Conn(e.ID), "INCOMING on %s from %s", e.Local, e.Peer); err != nil {
			return err
		}
		return s.addConn(e.ID, e.PeerIsUnix)

	case event.Connecting:
		return r.Message(render.Conn(e.ID), "CONNECTING to %s", e.Remote)

	case event.Connected:
		return r.Message(render.Conn(e.ID), "CONNECTED to %s", e.Remote)

	case event.ConnectFailed:
		return r.Message(render.Conn(e.ID), "CONNECT FAILED: %s: %v", e.Remote, e.Err)

	case event.Data:
		p, err := s.lookup(e.ID)
		if err != nil {
			return err
		}
		return p.acc(e.Dir).HandleData(e.Data, r)

	case event.ShutdownRead:
		p, err := s.lookup(e.ID)
		if err != nil {
			return err
		}
		if err := p.acc(e.Dir).Finish(r); err != nil {
			return err
		}
		return r.Message(render.ConnDir(e.ID, e.Dir), "%s stopped sending", e.Dir.Sender())

	case event.ShutdownWrite:
		return r.Message(render.ConnDir(e.ID, e.Dir),
			"%s has stopped receiving data, discarding %d bytes", e.Dir.Receiver(), e.Discard)

	case event.Oob:
		return r.Message(render.ConnDir(e.ID, e.Dir),
			"%s sent an out-of-band message: %d", e.Dir.Sender(), e.Byte)

	case event.End:
		if err := r.Message(render.Conn(e.ID), "ENDED"); err != nil {
			return err
		}
		delete(s.conns, e.ID)
		return nil

	case event.Aborted:
		if err := r.Message(render.Conn(e.ID), "ABORTED: %v", e.Err); err != nil {
			return err
		}
		delete(s.conns, e.ID)
		return nil

	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func (s *State) addConn(id event.ConnID, unixClient bool) error {
	if _, ok := s.conns[id]; ok {
		return fmt.Errorf("already have state for connection %s", id)
	}
	s.conns[id] = &pipelines{
		up:   NewAccumulator(id, event.Upstream, s.level, s.forceBinary, unixClient),
		down: NewAccumulator(id, event.Downstream, s.level, s.forceBinary, false),
	}
	return nil
}

func (s *State) lookup(id event.ConnID) (*pipelines, error) {
	p, ok := s.conns[id]
	if !ok {
		return nil, fmt.Errorf("no state for connection %s", id)
	}
	return p, nil
}

func (p *pipelines) acc(dir event.Direction) *Accumulator {
	if dir == event.Upstream {
		return p.up
	}
	return p.down
}
