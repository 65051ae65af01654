package progress

import (
	"context"
	"io"
	"sync"
)

// TransferCap bounds transfer progress until the response arrives.
const TransferCap = 99.0

// Transfer follows the bytes read from the request body.
type Transfer struct {
	mu    sync.Mutex
	read  int64
	total int64
	value float64
}

// NewTransfer creates a transfer reporter.
func NewTransfer() *Transfer {
	return &Transfer{}
}

// Track counts bytes read through the returned reader against size.
func (t *Transfer) Track(r io.Reader, size int64) io.Reader {
	t.mu.Lock()
	t.read = 0
	t.total = size
	t.mu.Unlock()
	return &countingReader{r: r, t: t}
}

// Start is a no-op; progress moves only as bytes are read.
func (t *Transfer) Start(context.Context) {}

// Value returns the current progress.
func (t *Transfer) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Finish sets the value to 100.
func (t *Transfer) Finish(context.Context) {
	t.mu.Lock()
	t.value = Complete
	t.mu.Unlock()
}

// Reset zeroes the counters.
func (t *Transfer) Reset() {
	t.mu.Lock()
	t.read, t.total, t.value = 0, 0, 0
	t.mu.Unlock()
}

func (t *Transfer) add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.read += int64(n)
	if t.total <= 0 {
		return
	}
	v := float64(t.read) / float64(t.total) * 100
	if v > TransferCap {
		v = TransferCap
	}
	if v > t.value {
		t.value = v
	}
}

type countingReader struct {
	r io.Reader
	t *Transfer
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.t.add(n)
	}
	return n, err
}
