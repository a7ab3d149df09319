// Package event defines the observations the proxy and the pcap replay
// decoder emit. Both sources feed the same handler, which keeps the
// rendering pipeline identical for live and replayed traffic.
package event

import (
	"fmt"
	"time"
)

// ConnID identifies one proxied (or replayed) connection.
type ConnID uint64

func (id ConnID) String() string {
	return fmt.Sprintf("#%d", id)
}

// Direction of a byte stream within a connection.
type Direction uint8

const (
	// Upstream flows client -> server.
	Upstream Direction = iota
	// Downstream flows server -> client.
	Downstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "UP"
	}
	return "DOWN"
}

// Sender names the side that produces bytes in this direction.
func (d Direction) Sender() string {
	if d == Upstream {
		return "client"
	}
	return "server"
}

// Receiver names the side that consumes bytes in this direction.
func (d Direction) Receiver() string {
	if d == Upstream {
		return "server"
	}
	return "client"
}

// Event is a closed set of connection observations.
type Event interface {
	event()
}

// BoundPort is emitted once per listening socket.
type BoundPort struct {
	Addr string
}

// Incoming is emitted when a client connection has been accepted.
type Incoming struct {
	ID    ConnID
	Local string
	Peer  string
	// PeerIsUnix is true when the client connected over a Unix domain
	// socket, which changes the framing of its first byte.
	PeerIsUnix bool
}

// Connecting is emitted before dialing the forward address.
type Connecting struct {
	ID     ConnID
	Remote string
}

// Connected is emitted when the forward connection is established.
type Connected struct {
	ID     ConnID
	Remote string
}

// ConnectFailed ends a session before any data flowed.
type ConnectFailed struct {
	ID     ConnID
	Remote string
	Err    error
}

// Data carries bytes observed in one direction.
type Data struct {
	ID   ConnID
	Dir  Direction
	Data []byte
}

// ShutdownRead is emitted when the sender side reached end-of-stream.
type ShutdownRead struct {
	ID  ConnID
	Dir Direction
}

// ShutdownWrite is emitted when the receiver side stopped accepting data.
// Discard counts bytes that were read but could no longer be forwarded.
type ShutdownWrite struct {
	ID      ConnID
	Dir     Direction
	Discard int
}

// Oob carries a TCP urgent byte relayed outside the normal framing.
type Oob struct {
	ID   ConnID
	Dir  Direction
	Byte byte
}

// End is the orderly end of a connection.
type End struct {
	ID ConnID
}

// Aborted is the disorderly end of a connection.
type Aborted struct {
	ID  ConnID
	Err error
}

func (BoundPort) event()     {}
func (Incoming) event()      {}
func (Connecting) event()    {}
func (Connected) event()     {}
func (ConnectFailed) event() {}
func (Data) event()          {}
func (ShutdownRead) event()  {}
func (ShutdownWrite) event() {}
func (Oob) event()           {}
func (End) event()           {}
func (Aborted) event()       {}

// Handler consumes a timestamped event. Handlers are called from a single
// goroutine; they own all decoder and renderer state.
type Handler func(ts time.Time, ev Event) error
