package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelloModeSelection(t *testing.T) {
	assert.Equal(t, helloNone, helloMode(false, false))
	assert.Equal(t, helloNone, helloMode(true, true))
	assert.Equal(t, helloStrip, helloMode(true, false))
	assert.Equal(t, helloInsert, helloMode(false, true))
}

func TestHelloStrip(t *testing.T) {
	h := &helloCorrector{mode: helloStrip}
	out := h.apply([]byte("0abc"))
	assert.Equal(t, []byte("abc"), out)

	// Only the first chunk is corrected.
	out = h.apply([]byte("0def"))
	assert.Equal(t, []byte("0def"), out)
}

func TestHelloStripKeepsNonHelloByte(t *testing.T) {
	h := &helloCorrector{mode: helloStrip}
	out := h.apply([]byte{0xff, 'a'})
	assert.Equal(t, []byte{0xff, 'a'}, out)
	assert.True(t, h.done)
}

func TestHelloInsert(t *testing.T) {
	h := &helloCorrector{mode: helloInsert}
	out := h.apply([]byte("abc"))
	assert.Equal(t, []byte("0abc"), out)

	out = h.apply([]byte("def"))
	assert.Equal(t, []byte("def"), out)
}

func TestHelloEmptyChunkDoesNotConsume(t *testing.T) {
	h := &helloCorrector{mode: helloInsert}
	assert.Empty(t, h.apply(nil))
	assert.False(t, h.done)

	out := h.apply([]byte("x"))
	assert.Equal(t, []byte("0x"), out)
}
