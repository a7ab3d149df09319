package mapi

import (
	"github.com/mapitools/mapiproxy/render"
)

// bytesPerLine is the width of the hex dump.
const bytesPerLine = 16

const hexDigits = "0123456789abcdef"

// extraSpace[i] is the number of grouping spaces before column i.
var extraSpace = [bytesPerLine + 1]int{
	0, 0, 0, 0,
	1, 0, 0, 0,
	2, 0, 0, 0,
	1, 0, 0, 0,
	4,
}

// hexDump renders bytes as a 16-wide hex-and-ASCII dump. Block header
// bytes (StyleHeader) are bracketed with ⟨⟩ so the framing stays visible
// inside the raw byte stream.
type hexDump struct {
	row [bytesPerLine]struct {
		b     byte
		style render.Style
	}
	col int
}

// add appends a byte, classifying normal bytes into digit/letter/
// whitespace styles, and writes out the row when full.
func (h *hexDump) add(b byte, style render.Style, r *render.Renderer) error {
	if style == render.StyleNormal {
		switch {
		case b >= '0' && b <= '9':
			style = render.StyleDigit
		case b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z':
			style = render.StyleLetter
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			style = render.StyleWhitespace
		}
	}

	h.row[h.col].b = b
	h.row[h.col].style = style
	h.col++

	if h.col == bytesPerLine {
		return h.writeOut(r)
	}
	return nil
}

// finish flushes a partially filled row.
func (h *hexDump) finish(r *render.Renderer) error {
	if h.col == 0 {
		return nil
	}
	return h.writeOut(r)
}

func (h *hexDump) writeOut(r *render.Renderer) error {
	inHead := false

	for i := 0; i < h.col; i++ {
		cell := h.row[i]
		r.SetStyle(render.StyleNormal)
		if err := h.putSep(i, &inHead, cell.style, r); err != nil {
			return err
		}
		r.SetStyle(cell.style)
		if err := r.Put([]byte{hexDigits[cell.b>>4], hexDigits[cell.b&0xF]}); err != nil {
			return err
		}
	}
	r.SetStyle(render.StyleNormal)

	for i := h.col; i < bytesPerLine; i++ {
		if err := h.putSep(i, &inHead, render.StyleFrame, r); err != nil {
			return err
		}
		if err := r.PutString("__"); err != nil {
			return err
		}
	}

	// Closes a trailing header bracket before the character column.
	if err := h.putSep(bytesPerLine, &inHead, render.StyleNormal, r); err != nil {
		return err
	}

	for i := 0; i < h.col; i++ {
		cell := h.row[i]
		r.SetStyle(cell.style)
		if err := r.PutString(readable(cell.b)); err != nil {
			return err
		}
	}

	if err := r.NL(); err != nil {
		return err
	}
	h.col = 0
	return nil
}

func (h *hexDump) putSep(i int, inHead *bool, style render.Style, r *render.Renderer) error {
	const spaces = "          "
	extra := extraSpace[i]
	isHead := style == render.StyleHeader

	var err error
	switch {
	case !*inHead && isHead:
		err = r.PutString(spaces[:extra])
		if err == nil {
			old := r.SetStyle(render.StyleHeader)
			err = r.PutString("⟨")
			r.SetStyle(old)
		}
	case *inHead && !isHead:
		old := r.SetStyle(render.StyleHeader)
		err = r.PutString("⟩")
		r.SetStyle(old)
		if err == nil {
			err = r.PutString(spaces[:extra])
		}
	default:
		err = r.PutString(spaces[:extra+1])
	}
	*inHead = isHead
	return err
}

// readable maps a byte to its character-column representation. The
// readable range deliberately excludes DEL.
func readable(b byte) string {
	switch {
	case b == ' ':
		return "·"
	case b >= 0x21 && b <= 0x7e:
		return string(rune(b))
	case b == '\n':
		return "↵"
	case b == '\t':
		return "→"
	case b == 0:
		return "░"
	default:
		return "▒"
	}
}
