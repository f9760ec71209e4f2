package bridge

// accumulator buffers inbound caller audio until enough has arrived to be
// worth shipping to the backend in one append. It is owned by a single
// goroutine and does no locking.
type accumulator struct {
	buf []byte
}

func (a *accumulator) Add(p []byte) {
	a.buf = append(a.buf, p...)
}

func (a *accumulator) Len() int {
	return len(a.buf)
}

// Take returns the buffered audio and resets the accumulator.
func (a *accumulator) Take() []byte {
	b := a.buf
	a.buf = nil
	return b
}
