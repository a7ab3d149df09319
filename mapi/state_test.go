package mapi

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapitools/mapiproxy/event"
	"github.com/mapitools/mapiproxy/render"
)

var ts = time.Date(2024, 5, 6, 12, 30, 15, 0, time.UTC)

func renderEvents(t *testing.T, level Level, forceBinary bool, events []event.Event) string {
	t.Helper()
	var buf bytes.Buffer
	r := render.New(render.NoColors, &buf)
	handler := NewState(level, forceBinary).Handler(r)
	for _, ev := range events {
		require.NoError(t, handler(ts, ev))
	}
	require.NoError(t, r.Flush())
	return buf.String()
}

func TestMessageLevelTextFrame(t *testing.T) {
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "127.0.0.1:50000", Peer: "127.0.0.1:39704"},
		event.Connected{ID: 1, Remote: "127.0.0.1:50001"},
		event.Data{ID: 1, Dir: event.Upstream, Data: block("hello\n", true)},
		event.ShutdownRead{ID: 1, Dir: event.Upstream},
		event.End{ID: 1},
	})

	assert.Contains(t, out, "‣ #1 INCOMING on 127.0.0.1:50000 from 127.0.0.1:39704\n")
	assert.Contains(t, out, "‣ #1 CONNECTED to 127.0.0.1:50001\n")
	assert.Contains(t, out, "┌ #1 UP text, message, 6 bytes\n")
	assert.Contains(t, out, "│hello↵\n")
	assert.Contains(t, out, "‣ #1 UP client stopped sending\n")
	assert.Contains(t, out, "‣ #1 ENDED\n")
}

func TestMessageSpansBlocks(t *testing.T) {
	wire := append(block("sel", false), block("ect 1;\n", true)...)
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Upstream, Data: wire},
	})

	assert.Contains(t, out, "┌ #1 UP text, message, 10 bytes\n")
	assert.Contains(t, out, "│select 1;↵\n")
}

func TestBlockLevel(t *testing.T) {
	wire := append(block("ab", false), block("cd", true)...)
	out := renderEvents(t, LevelBlocks, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Downstream, Data: wire},
	})

	assert.Contains(t, out, "┌ #1 DOWN text, block, 2 bytes\n")
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("block, 2 bytes")))
}

func TestBinaryPromotion(t *testing.T) {
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Downstream, Data: block("ab\x01", true)},
	})

	assert.Contains(t, out, "┌ #1 DOWN binary, message, 3 bytes\n")
	assert.Contains(t, out, "61 62 01")
	assert.Contains(t, out, "ab▒")
}

func TestForceBinary(t *testing.T) {
	out := renderEvents(t, LevelMessages, true, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Upstream, Data: block("hi", true)},
	})
	assert.Contains(t, out, "binary, message, 2 bytes")
	assert.NotContains(t, out, "│hi\n")
}

func TestRawLevelBracketsHeaders(t *testing.T) {
	out := renderEvents(t, LevelRaw, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Upstream, Data: block("ok", true)},
	})

	assert.Contains(t, out, "┌ #1 UP 4 bytes\n")
	// 2<<1|1 == 5: the header bytes are bracketed.
	assert.Contains(t, out, "⟨05 00⟩")
	assert.Contains(t, out, "▒░ok")
}

func TestRawTrailingHeaderByte(t *testing.T) {
	// The stream ends on the first byte of the next block header. The
	// byte only surfaces at end-of-stream, in its own short frame.
	data := append(block("ok", true), 0x07)
	out := renderEvents(t, LevelRaw, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Upstream, Data: data},
		event.ShutdownRead{ID: 1, Dir: event.Upstream},
	})

	assert.Contains(t, out, "┌ #1 UP 5 bytes\n")
	assert.Contains(t, out, "┌ #1 UP 1 bytes\n")
	assert.Contains(t, out, "⟨07⟩")
	assert.Contains(t, out, "└ incomplete\n")
	assert.Contains(t, out,
		"‣ #1 UP client closed the connection in the middle of a block header\n")
}

func TestUnixHelloByte(t *testing.T) {
	data := append([]byte{'0'}, block("hi", true)...)
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b", PeerIsUnix: true},
		event.Data{ID: 1, Dir: event.Upstream, Data: data},
	})

	assert.Contains(t, out, "‣ #1 UP client sent Unix hello byte '0'\n")
	assert.Contains(t, out, "│hi\n")
}

func TestUnixHelloByteOnlyOnce(t *testing.T) {
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b", PeerIsUnix: true},
		event.Data{ID: 1, Dir: event.Upstream, Data: []byte{'0'}},
		event.Data{ID: 1, Dir: event.Upstream, Data: block("hi", true)},
	})

	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("Unix hello byte")))
	assert.Contains(t, out, "│hi\n")
}

func TestBadUnixHelloFallsToRaw(t *testing.T) {
	data := append([]byte{0xff}, "rest"...)
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b", PeerIsUnix: true},
		event.Data{ID: 1, Dir: event.Upstream, Data: data},
	})

	assert.Contains(t, out, "mapi protocol error: unexpected Unix hello byte 0xff")
	// The offending byte stays visible in the raw dump.
	assert.Contains(t, out, "┌ #1 UP 5 bytes\n")
}

func TestTruncatedStream(t *testing.T) {
	hdr := EncodeHeader(10, true)
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Downstream, Data: append(hdr[:], "abc"...)},
		event.ShutdownRead{ID: 1, Dir: event.Downstream},
	})

	assert.Contains(t, out, "└ incomplete\n")
	assert.Contains(t, out,
		"‣ #1 DOWN server closed the connection with 7 bytes of a block payload missing\n")
}

func TestDirectionsDecodeIndependently(t *testing.T) {
	// An unfinished upstream message must not disturb downstream.
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 1, Local: "a", Peer: "b"},
		event.Data{ID: 1, Dir: event.Upstream, Data: block("part", false)},
		event.Data{ID: 1, Dir: event.Downstream, Data: block("full", true)},
	})

	assert.Contains(t, out, "┌ #1 DOWN text, message, 4 bytes\n")
	assert.Contains(t, out, "│full\n")
	assert.NotContains(t, out, "│part\n")
}

func TestShutdownWriteAndOob(t *testing.T) {
	out := renderEvents(t, LevelMessages, false, []event.Event{
		event.Incoming{ID: 2, Local: "a", Peer: "b"},
		event.ShutdownWrite{ID: 2, Dir: event.Upstream, Discard: 17},
		event.Oob{ID: 2, Dir: event.Downstream, Byte: 42},
	})

	assert.Contains(t, out, "‣ #2 UP server has stopped receiving data, discarding 17 bytes\n")
	assert.Contains(t, out, "‣ #2 DOWN server sent an out-of-band message: 42\n")
}

func TestDataForUnknownConnection(t *testing.T) {
	var buf bytes.Buffer
	r := render.New(render.NoColors, &buf)
	handler := NewState(LevelMessages, false).Handler(r)
	err := handler(ts, event.Data{ID: 9, Dir: event.Upstream, Data: []byte("x")})
	assert.Error(t, err)
}
