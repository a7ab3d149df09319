package pcap

import (
	"time"

	"github.com/huandu/skiplist"
	slog "github.com/vearne/simplelog"
)

const maxWindowSize = 65536

type segment struct {
	ts      time.Time
	payload []byte
}

// stream rebuilds one direction of a captured connection. Segments are
// held in a skiplist keyed by sequence number and handed to deliver in
// order as the gaps fill in.
type stream struct {
	dc       DirectConn
	list     *skiplist.SkipList
	expected uint32
	primed   bool
	deliver  func(ts time.Time, payload []byte)
}

func newStream(dc DirectConn, deliver func(ts time.Time, payload []byte)) *stream {
	return &stream{
		dc:      dc,
		list:    skiplist.New(skiplist.Uint32),
		deliver: deliver,
	}
}

// setExpected pins the first in-order sequence number, taken from the
// handshake when the capture contains it.
func (s *stream) setExpected(seq uint32) {
	s.expected = seq
	s.primed = true
}

func (s *stream) add(ts time.Time, seq uint32, payload []byte) {
	if len(payload) == 0 {
		return
	}
	// Without a handshake the first payload defines the stream start.
	if !s.primed {
		s.setExpected(seq)
	}

	if !inWindow(s.expected, maxWindowSize, seq) {
		slog.Debug("stream %v: seq %v outside window at %v, dropped",
			s.dc.String(), seq, s.expected)
		return
	}
	if s.list.Get(seq) != nil {
		slog.Debug("stream %v: duplicate seq %v, dropped", s.dc.String(), seq)
		return
	}

	s.list.Set(seq, segment{ts: ts, payload: payload})
	s.drain()
}

func (s *stream) drain() {
	for {
		ele := s.list.Get(s.expected)
		if ele == nil {
			return
		}
		seg := ele.Value.(segment)
		// Sequence numbers wrap around.
		s.expected += uint32(len(seg.payload))
		s.list.RemoveElement(ele)
		s.deliver(seg.ts, seg.payload)
	}
}

// finish is called when the capture ends. Segments still parked behind
// a sequence gap cannot be placed and are dropped with a diagnostic.
func (s *stream) finish() {
	if n := s.list.Len(); n > 0 {
		slog.Warn("stream %v: %v segment(s) unplaced behind a sequence gap at %v, dropped",
			s.dc.String(), n, s.expected)
		s.list.Init()
	}
}

// inWindow checks a sequence number against the sliding window, with
// 32-bit wrap-around.
func inWindow(expected, window, seq uint32) bool {
	right := expected + window
	if right < expected {
		return seq >= expected || seq <= right
	}
	return seq >= expected && seq <= right
}
