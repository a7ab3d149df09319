package pcap

import (
	"time"

	"github.com/smallnest/gofsm"
	slog "github.com/vearne/simplelog"

	"github.com/mapitools/mapiproxy/event"
)

// conversation is one captured client/server connection. key always
// points from the client to the server.
type conversation struct {
	key   DirectConn
	id    event.ConnID
	state string

	// first in-order sequence numbers, recorded from the handshake
	clientISN, serverISN uint32
	sawSYN, sawSYNACK    bool

	up, down         *stream
	started          bool
	shutUp, shutDown bool
	finished         bool
	lastTS           time.Time
}

// Replayer reconstructs conversations from captured packets and plays
// them back through an event handler, with packet capture timestamps in
// place of wall-clock time.
type Replayer struct {
	handler event.Handler
	fsm     *fsm.StateMachine
	conns   map[DirectConn]*conversation
	order   []*conversation
	nextID  uint64
	err     error
}

// NewReplayer wraps a handler. The handler sees the same event sequence
// a live session would produce.
func NewReplayer(handler event.Handler) *Replayer {
	return &Replayer{
		handler: handler,
		fsm:     initConnFSM(&connEventProcessor{}),
		conns:   make(map[DirectConn]*conversation),
	}
}

func (r *Replayer) emit(ts time.Time, ev event.Event) {
	if r.err != nil {
		return
	}
	if err := r.handler(ts, ev); err != nil {
		r.err = err
	}
}

// HandlePacket feeds one captured TCP packet into its conversation.
func (r *Replayer) HandlePacket(pkg *netPkg) {
	dc := pkg.conn()
	c, fromClient := r.lookup(dc, pkg)
	if c == nil || c.finished {
		return
	}
	c.lastTS = pkg.Timestamp

	tcp := pkg.TCP
	switch {
	case tcp.SYN && !tcp.ACK:
		c.clientISN = tcp.Seq + 1
		c.sawSYN = true
		r.trigger(c, eventSYN, pkg)
	case tcp.SYN && tcp.ACK:
		c.serverISN = tcp.Seq + 1
		c.sawSYNACK = true
		r.trigger(c, eventSYNACK, pkg)
	case tcp.RST:
		r.trigger(c, eventRST, pkg)
	case tcp.FIN:
		// A FIN can carry final payload bytes; place them before
		// the direction is reported closed.
		r.addPayload(c, fromClient, pkg)
		r.trigger(c, eventFIN, pkg)
	case len(tcp.Payload) > 0:
		r.trigger(c, eventPayload, pkg)
		r.addPayload(c, fromClient, pkg)
	case tcp.ACK:
		r.trigger(c, eventACK, pkg)
	}
}

// Finish ends every conversation still open when the capture runs out.
func (r *Replayer) Finish() error {
	for _, c := range r.order {
		if !c.finished {
			r.finishConversation(c, c.lastTS)
		}
	}
	return r.err
}

func (r *Replayer) trigger(c *conversation, ev string, pkg *netPkg) {
	if err := r.fsm.Trigger(c.state, ev, c, pkg, r); err != nil {
		slog.Debug("conversation %v: %v in state %v: %v",
			c.key.String(), ev, c.state, err)
	}
}

func (r *Replayer) addPayload(c *conversation, fromClient bool, pkg *netPkg) {
	if !c.started || len(pkg.TCP.Payload) == 0 {
		return
	}
	s := c.down
	if fromClient {
		s = c.up
	}
	s.add(pkg.Timestamp, pkg.TCP.Seq, pkg.TCP.Payload)
}

// lookup finds the conversation for a packet, creating one on first
// sight. The client side is the source of the SYN, or of the first
// payload when the capture starts mid-connection.
func (r *Replayer) lookup(dc DirectConn, pkg *netPkg) (*conversation, bool) {
	if c, ok := r.conns[dc]; ok {
		return c, true
	}
	if c, ok := r.conns[dc.Reverse()]; ok {
		return c, false
	}

	key := dc
	fromClient := true
	if pkg.TCP.SYN && pkg.TCP.ACK {
		// Handshake reply: the conversation starts on the other side.
		key = dc.Reverse()
		fromClient = false
	}

	r.nextID++
	c := &conversation{
		key:   key,
		id:    event.ConnID(r.nextID),
		state: stateListen,
	}
	c.up = newStream(key, func(ts time.Time, payload []byte) {
		r.emit(ts, event.Data{ID: c.id, Dir: event.Upstream, Data: payload})
	})
	c.down = newStream(key.Reverse(), func(ts time.Time, payload []byte) {
		r.emit(ts, event.Data{ID: c.id, Dir: event.Downstream, Data: payload})
	})
	r.conns[key] = c
	r.order = append(r.order, c)
	slog.Debug("conversation %v: tracking as %v", key.String(), c.id)
	return c, fromClient
}

// establish runs when a conversation reaches ESTABLISHED. It announces
// the connection and pins the stream starts when the handshake was in
// the capture.
func (r *Replayer) establish(c *conversation, pkg *netPkg) {
	if c.started {
		return
	}
	c.started = true
	if c.sawSYN {
		c.up.setExpected(c.clientISN)
	}
	if c.sawSYNACK {
		c.down.setExpected(c.serverISN)
	}
	r.emit(pkg.Timestamp, event.Incoming{
		ID:    c.id,
		Local: c.key.dstString(),
		Peer:  c.key.srcString(),
	})
	r.emit(pkg.Timestamp, event.Connected{ID: c.id, Remote: c.key.dstString()})
}

// halfClose reports the FIN sender's direction as done.
func (r *Replayer) halfClose(c *conversation, pkg *netPkg) {
	if !c.started {
		return
	}
	if pkg.conn() == c.key {
		r.shutdownRead(c, event.Upstream, pkg.Timestamp)
	} else {
		r.shutdownRead(c, event.Downstream, pkg.Timestamp)
	}
}

func (r *Replayer) shutdownRead(c *conversation, dir event.Direction, ts time.Time) {
	if dir == event.Upstream {
		if c.shutUp {
			return
		}
		c.shutUp = true
		c.up.finish()
	} else {
		if c.shutDown {
			return
		}
		c.shutDown = true
		c.down.finish()
	}
	r.emit(ts, event.ShutdownRead{ID: c.id, Dir: dir})
}

func (r *Replayer) finishConversation(c *conversation, ts time.Time) {
	if c.finished {
		return
	}
	c.finished = true
	if !c.started {
		return
	}
	r.shutdownRead(c, event.Upstream, ts)
	r.shutdownRead(c, event.Downstream, ts)
	r.emit(ts, event.End{ID: c.id})
}
