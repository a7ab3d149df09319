package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadTailShortBodyPassesThrough(t *testing.T) {
	var ht headTail
	ht.reset(3)

	admitted := 0
	for i := 0; i < 3; i++ {
		if ht.admit() {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted)

	skipped, tail := ht.finish()
	assert.Equal(t, 0, skipped)
	assert.Empty(t, tail)
}

func TestHeadTailLongBody(t *testing.T) {
	var ht headTail
	ht.reset(2)

	var head []int
	for i := 1; i <= 10; i++ {
		if ht.admit() {
			head = append(head, i)
		} else {
			ht.buffer([]byte(fmt.Sprintf("line %d", i)))
		}
	}
	assert.Equal(t, []int{1, 2}, head)

	skipped, tail := ht.finish()
	assert.Equal(t, 6, skipped)
	require.Len(t, tail, 2)
	assert.Equal(t, "line 9", string(tail[0]))
	assert.Equal(t, "line 10", string(tail[1]))
}

func TestHeadTailExactFit(t *testing.T) {
	// 2n lines: nothing to skip, tail holds the second half.
	var ht headTail
	ht.reset(2)

	for i := 1; i <= 4; i++ {
		if !ht.admit() {
			ht.buffer([]byte(fmt.Sprintf("line %d", i)))
		}
	}

	skipped, tail := ht.finish()
	assert.Equal(t, 0, skipped)
	require.Len(t, tail, 2)
	assert.Equal(t, "line 3", string(tail[0]))
	assert.Equal(t, "line 4", string(tail[1]))
}

func TestHeadTailReuse(t *testing.T) {
	var ht headTail
	ht.reset(1)
	ht.admit()
	ht.buffer([]byte("a"))
	ht.buffer([]byte("b"))
	ht.finish()

	ht.reset(1)
	assert.True(t, ht.admit())
	skipped, tail := ht.finish()
	assert.Equal(t, 0, skipped)
	assert.Empty(t, tail)
}
