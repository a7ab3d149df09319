package pcap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testStream() (*stream, *[]string) {
	var got []string
	s := newStream(DirectConn{}, func(ts time.Time, payload []byte) {
		got = append(got, string(payload))
	})
	return s, &got
}

func TestStreamInOrder(t *testing.T) {
	s, got := testStream()
	s.setExpected(100)
	s.add(time.Time{}, 100, []byte("abc"))
	s.add(time.Time{}, 103, []byte("def"))
	assert.Equal(t, []string{"abc", "def"}, *got)
}

func TestStreamHoldsGap(t *testing.T) {
	s, got := testStream()
	s.setExpected(100)
	s.add(time.Time{}, 103, []byte("def"))
	assert.Empty(t, *got)
	s.add(time.Time{}, 100, []byte("abc"))
	assert.Equal(t, []string{"abc", "def"}, *got)
}

func TestStreamOutsideWindow(t *testing.T) {
	s, got := testStream()
	s.setExpected(100)
	s.add(time.Time{}, 100+maxWindowSize+1, []byte("far"))
	s.add(time.Time{}, 100, []byte("ok"))
	assert.Equal(t, []string{"ok"}, *got)
}

func TestStreamSeqWrapAround(t *testing.T) {
	s, got := testStream()
	start := uint32(0xFFFFFFFE)
	s.setExpected(start)
	s.add(time.Time{}, start, []byte("abcd"))
	// 0xFFFFFFFE + 4 wraps to 2.
	s.add(time.Time{}, 2, []byte("ef"))
	assert.Equal(t, []string{"abcd", "ef"}, *got)
}

func TestStreamFinishDropsUnplaced(t *testing.T) {
	s, got := testStream()
	s.setExpected(100)
	s.add(time.Time{}, 200, []byte("orphan"))
	s.finish()
	assert.Empty(t, *got)
	assert.Equal(t, 0, s.list.Len())
}

func TestInWindow(t *testing.T) {
	assert.True(t, inWindow(100, 1000, 100))
	assert.True(t, inWindow(100, 1000, 1100))
	assert.False(t, inWindow(100, 1000, 1101))
	assert.False(t, inWindow(100, 1000, 99))

	// Wrap-around window.
	assert.True(t, inWindow(0xFFFFFF00, 1000, 0xFFFFFFFF))
	assert.True(t, inWindow(0xFFFFFF00, 1000, 5))
	assert.False(t, inWindow(0xFFFFFF00, 1000, 0x10000))
}
