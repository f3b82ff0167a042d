package receiver

// ReadBuffer accumulates bytes from one upstream connection. Its capacity
// doubles while a frame is incomplete and is cut back to the baseline once it
// exceeds baseline*growthLimit.
type ReadBuffer struct {
	buf       []byte
	baseline  int
	threshold int
}

// NewReadBuffer allocates a buffer of baseline capacity
func NewReadBuffer(baseline, growthLimit int) *ReadBuffer {
	if baseline <= 0 {
		baseline = 8192
	}
	if growthLimit < 1 {
		growthLimit = 1
	}
	return &ReadBuffer{
		buf:       make([]byte, 0, baseline),
		baseline:  baseline,
		threshold: baseline * growthLimit,
	}
}

// Prepare must run before every read. When capacity has grown past the
// threshold the buffer is replaced by a fresh baseline one and the number of
// retained, never forwarded bytes is returned.
func (b *ReadBuffer) Prepare() (dropped int) {
	if cap(b.buf) <= b.threshold {
		return 0
	}
	dropped = len(b.buf)
	b.buf = make([]byte, 0, b.baseline)
	return dropped
}

// Spare returns the writable tail of the buffer, growing it when full
func (b *ReadBuffer) Spare() []byte {
	if len(b.buf) == cap(b.buf) {
		grown := make([]byte, len(b.buf), 2*cap(b.buf))
		copy(grown, b.buf)
		b.buf = grown
	}
	return b.buf[len(b.buf):cap(b.buf)]
}

// Commit extends the buffer by n bytes previously written into Spare
func (b *ReadBuffer) Commit(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

// EndsWithDelimiter reports whether the last buffered byte is a newline
func (b *ReadBuffer) EndsWithDelimiter() bool {
	return len(b.buf) > 0 && b.buf[len(b.buf)-1] == '\n'
}

// Bytes returns the buffered data. The slice is only valid until the next
// Prepare, Spare or Reset.
func (b *ReadBuffer) Bytes() []byte {
	return b.buf
}

func (b *ReadBuffer) Len() int {
	return len(b.buf)
}

func (b *ReadBuffer) Cap() int {
	return cap(b.buf)
}

// Threshold is the capacity above which Prepare resets the buffer
func (b *ReadBuffer) Threshold() int {
	return b.threshold
}

// Reset empties the buffer and keeps its capacity
func (b *ReadBuffer) Reset() {
	b.buf = b.buf[:0]
}
