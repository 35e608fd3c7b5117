package capture

import "sync"

// Cursor is a sequential read position into a [RingBuffer]. Positions are
// expressed in the same domain as [RingBuffer.TotalWritten], so a cursor
// stays meaningful across wrap-around.
//
// The zero value starts at the very first sample ever written. A Cursor must
// only be passed to the RingBuffer that owns it; all reads and writes of its
// position happen under that buffer's lock.
type Cursor struct {
	pos uint64
}

// RingOption configures a RingBuffer.
type RingOption func(*RingBuffer)

// WithOverrunHook registers fn to be called whenever a streaming read finds
// that part of its unread backlog was overwritten. lost is the number of
// samples the cursor skipped. fn runs on the reader's goroutine after the
// buffer lock has been released.
func WithOverrunHook(fn func(lost uint64)) RingOption {
	return func(r *RingBuffer) { r.onOverrun = fn }
}

// RingBuffer is a fixed-capacity circular store of mono float32 samples.
//
// A single producer appends with [RingBuffer.Write]; any number of consumers
// read either overlapping snapshots ([RingBuffer.ReadLatest]) or disjoint
// sequential runs through their own [Cursor] ([RingBuffer.ReadStream]).
// Every critical section is a plain copy so that the producer is never held
// up by consumer work. All methods are safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	storage  []float32
	writePos int

	// total counts every sample ever written and never decreases.
	total uint64
	// base is the value of total at the last Reset. Samples before it are
	// no longer readable even when they would still fit in storage.
	base uint64

	onOverrun func(lost uint64)
}

// NewRingBuffer returns a RingBuffer holding up to capacity samples.
// It panics if capacity is not positive.
func NewRingBuffer(capacity int, opts ...RingOption) *RingBuffer {
	if capacity <= 0 {
		panic("capture: ring buffer capacity must be positive")
	}
	r := &RingBuffer{storage: make([]float32, capacity)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Capacity returns the number of samples the buffer can hold.
func (r *RingBuffer) Capacity() int { return len(r.storage) }

// TotalWritten returns the number of samples written since the buffer was
// created.
func (r *RingBuffer) TotalWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Buffered returns how many samples are currently readable with ReadLatest.
func (r *RingBuffer) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferedLocked()
}

// Write appends samples in order, overwriting the oldest data once the buffer
// is full. Input longer than the capacity is accepted; only its tail
// survives.
func (r *RingBuffer) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.storage)
	r.total += uint64(len(samples))
	if len(samples) > capacity {
		skipped := len(samples) - capacity
		r.writePos = (r.writePos + skipped) % capacity
		samples = samples[skipped:]
	}
	n := copy(r.storage[r.writePos:], samples)
	if n < len(samples) {
		copy(r.storage, samples[n:])
	}
	r.writePos = (r.writePos + len(samples)) % capacity
}

// ReadLatest returns a copy of the most recent min(n, Capacity, Buffered)
// samples in chronological order. It does not move any cursor and may
// overlap earlier calls. The result is empty only when nothing is buffered.
func (r *RingBuffer) ReadLatest(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(n, r.bufferedLocked())
	if n <= 0 {
		return []float32{}
	}
	out := make([]float32, n)
	r.copyLocked(out, r.total-uint64(n))
	return out
}

// ReadStream returns up to n samples starting at c, clamped to the unread
// data, and advances c past them. Before reading, a cursor that has fallen
// more than Capacity samples behind is moved to the oldest sample still
// stored; the skipped samples are reported to the overrun hook.
//
// Successive calls on the same cursor return disjoint, contiguous runs.
func (r *RingBuffer) ReadStream(n int, c *Cursor) []float32 {
	r.mu.Lock()
	lost := r.rectifyLocked(c)
	avail := int(r.total - c.pos)
	n = min(n, avail)
	var out []float32
	if n > 0 {
		out = make([]float32, n)
		r.copyLocked(out, c.pos)
		c.pos += uint64(n)
	} else {
		out = []float32{}
	}
	hook := r.onOverrun
	r.mu.Unlock()

	if lost > 0 && hook != nil {
		hook(lost)
	}
	return out
}

// Unread returns how many samples a ReadStream on c could return right now.
func (r *RingBuffer) Unread(c *Cursor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := max(c.pos, r.oldestLocked())
	if pos > r.total {
		return 0
	}
	return int(r.total - pos)
}

// ResetCursor moves c to "now", discarding its unread backlog.
func (r *RingBuffer) ResetCursor(c *Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.pos = r.total
}

// Reset zeroes the stored samples and makes everything written so far
// unreadable. TotalWritten keeps counting, so existing cursors are simply
// moved forward on their next read.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.storage)
	r.base = r.total
}

func (r *RingBuffer) bufferedLocked() int {
	return int(min(r.total-r.base, uint64(len(r.storage))))
}

// oldestLocked is the position of the oldest sample that is still readable.
func (r *RingBuffer) oldestLocked() uint64 {
	oldest := r.base
	if capacity := uint64(len(r.storage)); r.total > capacity && r.total-capacity > oldest {
		oldest = r.total - capacity
	}
	return oldest
}

// rectifyLocked clamps c into the readable window and returns how many
// samples were lost to overwrite.
func (r *RingBuffer) rectifyLocked(c *Cursor) uint64 {
	if c.pos > r.total {
		c.pos = r.total
		return 0
	}
	if c.pos < r.base {
		c.pos = r.base
	}
	var lost uint64
	if capacity := uint64(len(r.storage)); r.total-c.pos > capacity {
		newPos := r.total - capacity
		lost = newPos - c.pos
		c.pos = newPos
	}
	return lost
}

// copyLocked fills dst with samples starting at absolute position from.
// The caller guarantees the whole range is still stored.
func (r *RingBuffer) copyLocked(dst []float32, from uint64) {
	capacity := len(r.storage)
	back := int(r.total - from)
	start := (r.writePos - back%capacity + capacity) % capacity
	n := copy(dst, r.storage[start:])
	if n < len(dst) {
		copy(dst[n:], r.storage)
	}
}
