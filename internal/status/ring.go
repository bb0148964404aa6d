package status

// ring is a fixed-capacity FIFO of log entries.
type ring struct {
	buf  []LogEntry
	head int
	size int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &ring{buf: make([]LogEntry, capacity)}
}

func (r *ring) push(e LogEntry) {
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = e
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

// entries returns the buffered entries oldest first.
func (r *ring) entries() []LogEntry {
	out := make([]LogEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) reset() {
	clear(r.buf)
	r.head = 0
	r.size = 0
}
