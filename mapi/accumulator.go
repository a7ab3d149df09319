package mapi

import (
	"fmt"
	"unicode/utf8"

	"github.com/mapitools/mapiproxy/event"
	"github.com/mapitools/mapiproxy/render"
)

// Level selects the dump granularity.
type Level uint8

const (
	LevelRaw Level = iota
	LevelBlocks
	LevelMessages
)

func (l Level) String() string {
	switch l {
	case LevelRaw:
		return "raw"
	case LevelBlocks:
		return "blocks"
	default:
		return "messages"
	}
}

// Set implements flag.Value.
func (l *Level) Set(v string) error {
	switch v {
	case "raw":
		*l = LevelRaw
	case "blocks":
		*l = LevelBlocks
	case "messages":
		*l = LevelMessages
	default:
		return fmt.Errorf("unsupported level %q", v)
	}
	return nil
}

// Accumulator renders one direction of one connection. Its decoder state
// is independent of the opposite direction even though both interleave
// on the same renderer.
type Accumulator struct {
	id          event.ConnID
	dir         event.Direction
	level       Level
	forceBinary bool

	// unixClient marks the upstream direction of a Unix domain client,
	// which prefixes its stream with a single hello byte.
	unixClient bool
	helloDone  bool

	dec      Decoder
	bin      hexDump
	protoErr bool
}

// NewAccumulator creates the render pipeline for one direction.
func NewAccumulator(id event.ConnID, dir event.Direction, level Level, forceBinary, unixClient bool) *Accumulator {
	return &Accumulator{
		id:          id,
		dir:         dir,
		level:       level,
		forceBinary: forceBinary,
		unixClient:  unixClient,
	}
}

func (a *Accumulator) ctx() render.Context {
	return render.ConnDir(a.id, a.dir)
}

// HandleData decodes and renders one observed chunk.
func (a *Accumulator) HandleData(data []byte, r *render.Renderer) error {
	if a.unixClient && !a.helloDone && len(data) > 0 {
		b := data[0]
		data = data[1:]
		a.helloDone = true
		if b >= '0' && b <= '9' {
			if err := r.Message(a.ctx(), "client sent Unix hello byte %q", b); err != nil {
				return err
			}
		} else {
			a.protoErr = true
			a.level = LevelRaw
			if err := r.Message(a.ctx(), "mapi protocol error: unexpected Unix hello byte 0x%02x", b); err != nil {
				return err
			}
			// Render the bad byte too, it is part of the stream.
			data = append([]byte{b}, data...)
		}
		if len(data) == 0 {
			return nil
		}
	}

	if a.level == LevelRaw {
		return a.handleRaw(data, r)
	}
	return a.handleFrame(data, r)
}

// handleRaw hexdumps the stream as-is, with block headers bracketed.
func (a *Accumulator) handleRaw(data []byte, r *render.Renderer) error {
	if err := r.Header(a.ctx(), fmt.Sprintf("%d bytes", len(data))); err != nil {
		return err
	}
	var err error
	a.dec.Feed(data, func(ev Event) {
		if err != nil {
			return
		}
		var style render.Style
		switch ev.Kind {
		case HeaderSeg:
			style = render.StyleHeader
		case PayloadSeg:
			style = render.StyleNormal
		default:
			return
		}
		if a.protoErr {
			style = render.StyleError
		}
		for _, b := range ev.Bytes {
			if err = a.bin.add(b, style, r); err != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if err := a.bin.finish(r); err != nil {
		return err
	}
	return r.Footer()
}

// handleFrame renders complete blocks or messages as they finish.
func (a *Accumulator) handleFrame(data []byte, r *render.Renderer) error {
	var err error
	a.dec.Feed(data, func(ev Event) {
		if err != nil {
			return
		}
		err = a.frameEvent(ev, r)
	})
	return err
}

func (a *Accumulator) frameEvent(ev Event, r *render.Renderer) error {
	switch {
	case a.level == LevelBlocks && ev.Kind == BlockReady:
		return a.dumpFrame(ev.Bytes, "block", ev.Truncated, r)
	case a.level == LevelMessages && ev.Kind == MessageReady:
		return a.dumpFrame(ev.Bytes, "message", ev.Truncated, r)
	default:
		return nil
	}
}

func (a *Accumulator) dumpFrame(data []byte, kind string, truncated bool, r *render.Renderer) error {
	isBinary := a.forceBinary || isScary(data) || !utf8.Valid(data)

	format := "text"
	if isBinary {
		format = "binary"
	}
	if err := r.Header(a.ctx(), format, kind, fmt.Sprintf("%d bytes", len(data))); err != nil {
		return err
	}

	var err error
	if isBinary {
		err = a.dumpBinary(data, r)
	} else {
		err = a.dumpText(data, r)
	}
	if err != nil {
		return err
	}

	if truncated {
		return r.Footer("incomplete")
	}
	return r.Footer()
}

func (a *Accumulator) dumpBinary(data []byte, r *render.Renderer) error {
	var bin hexDump
	for _, b := range data {
		if err := bin.add(b, render.StyleNormal, r); err != nil {
			return err
		}
	}
	return bin.finish(r)
}

func (a *Accumulator) dumpText(data []byte, r *render.Renderer) error {
	r.SetStyle(render.StyleNormal)
	for _, b := range data {
		var err error
		switch b {
		case '\n':
			if err = r.PutString("↵"); err == nil {
				err = r.NL()
			}
		case '\t':
			err = r.PutString("→")
		default:
			err = r.Put([]byte{b})
		}
		if err != nil {
			return err
		}
	}
	if !r.AtStart() {
		return r.NL()
	}
	return nil
}

// Finish flushes truncated frames at end-of-stream and reports whether
// the stream ended inside a block or message.
func (a *Accumulator) Finish(r *render.Renderer) error {
	situation := a.dec.Incomplete()
	var err error
	if a.level == LevelRaw {
		// Payload bytes were dumped as they arrived, but a lone
		// header byte is still buffered and would go unseen.
		err = a.rawPendingHeader(r)
	} else {
		a.dec.Finish(func(ev Event) {
			if err != nil {
				return
			}
			err = a.frameEvent(ev, r)
		})
	}
	if err != nil {
		return err
	}
	if situation != "" {
		return r.Message(a.ctx(), "%s closed the connection %s", a.dir.Sender(), situation)
	}
	return nil
}

func (a *Accumulator) rawPendingHeader(r *render.Renderer) error {
	pend := a.dec.PendingHeader()
	if len(pend) == 0 {
		return nil
	}
	if err := r.Header(a.ctx(), fmt.Sprintf("%d bytes", len(pend))); err != nil {
		return err
	}
	style := render.StyleHeader
	if a.protoErr {
		style = render.StyleError
	}
	for _, b := range pend {
		if err := a.bin.add(b, style, r); err != nil {
			return err
		}
	}
	if err := a.bin.finish(r); err != nil {
		return err
	}
	return r.Footer("incomplete")
}

// isScary reports control bytes other than newline and tab, which force
// a frame into the hex rendering even when it is valid UTF-8.
func isScary(data []byte) bool {
	for _, b := range data {
		if b < ' ' && b != '\n' && b != '\t' {
			return true
		}
	}
	return false
}
