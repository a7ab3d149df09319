package mapi

import "fmt"

// EventKind discriminates decoder events.
type EventKind uint8

const (
	// HeaderSeg is the two raw header bytes of a block.
	HeaderSeg EventKind = iota
	// PayloadSeg is a fragment of a block payload, as delivered.
	PayloadSeg
	// BlockReady carries a complete block payload.
	BlockReady
	// MessageReady carries a complete message (all block payloads
	// concatenated through the final block).
	MessageReady
)

// Event is one decoder observation. Bytes reference internal buffers for
// BlockReady/MessageReady and the caller's buffer for segments; consumers
// must not retain them across Feed calls.
type Event struct {
	Kind  EventKind
	Bytes []byte
	// Final is the block's final-message flag (HeaderSeg, BlockReady).
	Final bool
	// Truncated marks best-effort data emitted at end-of-stream when
	// fewer bytes arrived than the header declared.
	Truncated bool
}

type decodeState uint8

const (
	awaitingHeader decodeState = iota
	awaitingPayload
)

// Decoder is a resumable block/message parser. Feed never blocks and
// accepts arbitrarily small fragments; state carries over between calls.
type Decoder struct {
	state decodeState

	hdr  [2]byte
	hdrN int

	remaining int
	final     bool

	block []byte
	msg   []byte
}

// Feed consumes p and invokes emit for every event it completes.
func (d *Decoder) Feed(p []byte, emit func(Event)) {
	for len(p) > 0 {
		switch d.state {
		case awaitingHeader:
			n := copy(d.hdr[d.hdrN:], p)
			d.hdrN += n
			p = p[n:]
			if d.hdrN < headerLen {
				return
			}
			d.hdrN = 0
			length, final := DecodeHeader(d.hdr)
			d.remaining = length
			d.final = final
			d.block = d.block[:0]
			emit(Event{Kind: HeaderSeg, Bytes: d.hdr[:], Final: final})
			d.state = awaitingPayload
			if d.remaining == 0 {
				d.finishBlock(emit, false)
			}

		case awaitingPayload:
			n := len(p)
			if n > d.remaining {
				n = d.remaining
			}
			chunk := p[:n]
			p = p[n:]
			d.remaining -= n
			d.block = append(d.block, chunk...)
			emit(Event{Kind: PayloadSeg, Bytes: chunk, Final: d.final})
			if d.remaining == 0 {
				d.finishBlock(emit, false)
			}
		}
	}
}

// Finish flushes partial state at end-of-stream. A half-received header
// or payload is emitted truncated rather than discarded; capture files
// routinely end mid-block.
func (d *Decoder) Finish(emit func(Event)) {
	switch {
	case d.state == awaitingHeader && d.hdrN > 0:
		// A lone header byte: surface it as truncated payload so the
		// byte is at least visible.
		d.block = append(d.block[:0], d.hdr[:d.hdrN]...)
		d.hdrN = 0
		d.finishBlock(emit, true)
	case d.state == awaitingPayload && d.remaining > 0:
		d.finishBlock(emit, true)
	}
}

// PendingHeader returns header bytes received but not yet reported.
// Feed emits a HeaderSeg only once both bytes are in, so a stream
// ending on a lone header byte still has it buffered here.
func (d *Decoder) PendingHeader() []byte {
	if d.state == awaitingHeader && d.hdrN > 0 {
		return d.hdr[:d.hdrN]
	}
	return nil
}

// Incomplete describes leftover state, or "" when the stream ended on a
// message boundary.
func (d *Decoder) Incomplete() string {
	switch {
	case d.state == awaitingHeader && d.hdrN > 0:
		return "in the middle of a block header"
	case d.state == awaitingPayload && d.remaining > 0:
		return fmt.Sprintf("with %d bytes of a block payload missing", d.remaining)
	case len(d.msg) > 0 || d.state == awaitingPayload:
		return "in the middle of a message"
	default:
		return ""
	}
}

func (d *Decoder) finishBlock(emit func(Event), truncated bool) {
	emit(Event{Kind: BlockReady, Bytes: d.block, Final: d.final, Truncated: truncated})
	d.msg = append(d.msg, d.block...)
	if d.final || truncated {
		emit(Event{Kind: MessageReady, Bytes: d.msg, Truncated: truncated})
		d.msg = d.msg[:0]
	}
	d.state = awaitingHeader
	d.remaining = 0
}
