// Package render produces the human-readable view of proxied traffic:
// framed units, event lines, styled bytes, minute announcements and the
// optional head/tail abbreviation.
package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mapitools/mapiproxy/event"
)

const (
	// A blank separator line is printed when this much time passed
	// without output.
	separatorThreshold = 500 * time.Millisecond
)

// Context is the connection/direction prefix of a rendered line.
type Context struct {
	id     event.ConnID
	dir    event.Direction
	hasID  bool
	hasDir bool
}

// NoContext is used for process-wide lines such as LISTEN and TIME.
func NoContext() Context { return Context{} }

// Conn scopes a line to a connection.
func Conn(id event.ConnID) Context { return Context{id: id, hasID: true} }

// ConnDir scopes a line to one direction of a connection.
func ConnDir(id event.ConnID, dir event.Direction) Context {
	return Context{id: id, dir: dir, hasID: true, hasDir: true}
}

func (c Context) String() string {
	var b strings.Builder
	if c.hasID {
		fmt.Fprintf(&b, " %s", c.id)
	}
	if c.hasDir {
		fmt.Fprintf(&b, " %s", c.dir)
	}
	return b.String()
}

// Renderer writes framed, styled output to a single sink. It is not safe
// for concurrent use; all events must be handled from one goroutine.
type Renderer struct {
	colors    *Colors
	stack     []Escape
	out       *bufio.Writer
	autoflush bool

	current Style
	desired Style
	atStart bool

	timing trackTime

	// cur holds the line being built, including escape sequences.
	cur    []byte
	briefN int
	ht     headTail
	inBody bool
}

// New wraps the sink in a buffered writer and returns a renderer with
// flushing enabled and brief mode off.
func New(colors *Colors, out io.Writer) *Renderer {
	return &Renderer{
		colors:    colors,
		out:       bufio.NewWriterSize(out, 4*8192),
		autoflush: true,
		atStart:   true,
	}
}

// SetAutoflush controls whether every message and unit footer flushes
// the sink.
func (r *Renderer) SetAutoflush(on bool) { r.autoflush = on }

// SetBrief limits every rendered unit to its first and last n lines.
func (r *Renderer) SetBrief(n int) { r.briefN = n }

// Timestamp sets the clock used for separators and minute announcements.
// Live mode passes wall-clock time, replay mode the capture timestamps.
func (r *Renderer) Timestamp(ts time.Time) { r.timing.setTime(ts) }

// Message renders a single ‣ event line.
func (r *Renderer) Message(ctx Context, format string, args ...interface{}) error {
	if err := r.renderTiming(); err != nil {
		return err
	}
	return r.renderMessage(ctx, fmt.Sprintf(format, args...))
}

func (r *Renderer) renderMessage(ctx Context, text string) error {
	r.SetStyle(StyleFrame)
	r.switchStyle()
	r.emitString("‣" + ctx.String() + " " + text)
	if err := r.NL(); err != nil {
		return err
	}
	return r.maybeFlush()
}

// Header opens a rendered unit. Body lines written with Put/NL until the
// matching Footer are subject to brief abbreviation.
func (r *Renderer) Header(ctx Context, items ...string) error {
	if err := r.renderTiming(); err != nil {
		return err
	}
	r.SetStyle(StyleFrame)
	r.switchStyle()
	r.emitString("┌" + ctx.String())
	sep := " "
	for _, item := range items {
		r.emitString(sep + item)
		sep = ", "
	}
	if err := r.NL(); err != nil {
		return err
	}
	if r.briefN > 0 {
		r.ht.reset(r.briefN)
		r.inBody = true
	}
	return nil
}

// Footer closes the current unit, emitting any abbreviated tail first.
func (r *Renderer) Footer(items ...string) error {
	if !r.atStart {
		if err := r.NL(); err != nil {
			return err
		}
	}
	if r.inBody {
		r.inBody = false
		skipped, tail := r.ht.finish()
		if skipped > 0 {
			r.SetStyle(StyleFrame)
			r.switchStyle()
			r.emitString(fmt.Sprintf("┆ ... %d lines skipped ...", skipped))
			if err := r.NL(); err != nil {
				return err
			}
		}
		for _, line := range tail {
			if _, err := r.out.Write(line); err != nil {
				return err
			}
		}
	}
	r.SetStyle(StyleFrame)
	r.switchStyle()
	r.emitString("└")
	sep := " "
	for _, item := range items {
		r.emitString(sep + item)
		sep = ", "
	}
	if err := r.NL(); err != nil {
		return err
	}
	return r.maybeFlush()
}

// Put writes body bytes in the desired style, opening the line with the
// │ gutter when at the start of a line.
func (r *Renderer) Put(data []byte) error {
	if r.atStart {
		old := r.SetStyle(StyleFrame)
		r.switchStyle()
		r.emitString("│")
		r.SetStyle(old)
		r.atStart = false
	}
	r.switchStyle()
	r.cur = append(r.cur, data...)
	return nil
}

// PutString is Put for string data.
func (r *Renderer) PutString(s string) error {
	return r.Put([]byte(s))
}

// NL terminates the current line, resetting the style so that dropped
// lines cannot leak escape state.
func (r *Renderer) NL() error {
	old := r.SetStyle(StyleNormal)
	r.switchStyle()
	r.SetStyle(old)
	r.cur = append(r.cur, '\n')
	err := r.dispatchLine()
	r.atStart = true
	return err
}

// AtStart reports whether the next Put begins a fresh line.
func (r *Renderer) AtStart() bool { return r.atStart }

// SetStyle records the style for subsequent output and returns the
// previous one. Escapes are only written when output follows.
func (r *Renderer) SetStyle(s Style) Style {
	old := r.desired
	r.desired = s
	return old
}

// Flush writes out any partial line and flushes the sink.
func (r *Renderer) Flush() error {
	if len(r.cur) > 0 {
		if _, err := r.out.Write(r.cur); err != nil {
			return err
		}
		r.cur = r.cur[:0]
	}
	return r.out.Flush()
}

func (r *Renderer) maybeFlush() error {
	if !r.autoflush {
		return nil
	}
	return r.out.Flush()
}

func (r *Renderer) dispatchLine() error {
	if r.inBody {
		if r.ht.admit() {
			// Within the head: passes through.
		} else {
			r.ht.buffer(append([]byte(nil), r.cur...))
			r.cur = r.cur[:0]
			return nil
		}
	}
	_, err := r.out.Write(r.cur)
	r.cur = r.cur[:0]
	return err
}

func (r *Renderer) switchStyle() {
	if r.desired == r.current {
		return
	}
	for i := len(r.stack) - 1; i >= 0; i-- {
		r.emitString(r.stack[i].Disable)
	}
	r.stack = r.stack[:0]

	c := r.colors
	switch r.desired {
	case StyleNormal:
		r.pushStyle(c.Normal)
	case StyleError:
		r.pushStyle(c.Red)
		r.pushStyle(c.Bold)
	case StyleFrame:
		r.pushStyle(c.Cyan)
	case StyleHeader:
		r.pushStyle(c.Bold)
	case StyleWhitespace:
		r.pushStyle(c.Red)
	case StyleDigit:
		r.pushStyle(c.Green)
	case StyleLetter:
		r.pushStyle(c.Blue)
	}
	r.current = r.desired
}

func (r *Renderer) pushStyle(e Escape) {
	r.emitString(e.Enable)
	r.stack = append(r.stack, e)
}

func (r *Renderer) emitString(s string) {
	r.cur = append(r.cur, s...)
}

func (r *Renderer) renderTiming() error {
	if r.timing.registerActivity() {
		if err := r.NL(); err != nil {
			return err
		}
	}
	if ann, ok := r.timing.announcement(); ok {
		if err := r.renderMessage(NoContext(), "TIME is "+ann); err != nil {
			return err
		}
		if err := r.NL(); err != nil {
			return err
		}
	}
	return nil
}

// trackTime decides when to print activity separators and the
// once-per-minute TIME announcement.
type trackTime struct {
	now          time.Time
	lastActivity time.Time
	nextAnnounce time.Time
}

func (t *trackTime) setTime(now time.Time) { t.now = now }

func (t *trackTime) registerActivity() bool {
	prev := t.lastActivity
	t.lastActivity = t.now
	if prev.IsZero() {
		return false
	}
	return t.now.Sub(prev) >= separatorThreshold
}

func (t *trackTime) announcement() (string, bool) {
	if !t.nextAnnounce.IsZero() && t.now.Before(t.nextAnnounce) {
		return "", false
	}
	t.nextAnnounce = t.now.Truncate(time.Minute).Add(time.Minute)
	return t.now.Format("2006-01-02 15:04:05.000"), true
}
