package render

// headTail keeps the first n body lines flowing through and retains only
// the last n of the rest, counting what falls in between.
type headTail struct {
	n       int
	passed  int
	ring    [][]byte
	start   int
	skipped int
}

func (h *headTail) reset(n int) {
	h.n = n
	h.passed = 0
	h.start = 0
	h.skipped = 0
	if cap(h.ring) < n {
		h.ring = make([][]byte, 0, n)
	} else {
		h.ring = h.ring[:0]
	}
}

// admit reports whether the next line still belongs to the head and may
// be written directly.
func (h *headTail) admit() bool {
	if h.passed < h.n {
		h.passed++
		return true
	}
	return false
}

// buffer retains a candidate tail line, discarding the oldest one (and
// counting it as skipped) when the ring is full.
func (h *headTail) buffer(line []byte) {
	if len(h.ring) < h.n {
		h.ring = append(h.ring, line)
		return
	}
	h.ring[h.start] = line
	h.start = (h.start + 1) % h.n
	h.skipped++
}

// finish returns the number of elided lines and the retained tail in
// original order.
func (h *headTail) finish() (skipped int, tail [][]byte) {
	if len(h.ring) == 0 {
		return h.skipped, nil
	}
	tail = make([][]byte, 0, len(h.ring))
	for i := 0; i < len(h.ring); i++ {
		tail = append(tail, h.ring[(h.start+i)%len(h.ring)])
	}
	return h.skipped, tail
}
