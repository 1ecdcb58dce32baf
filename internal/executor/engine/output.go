package engine

import (
	"bytes"
	"sync"
)

// limitedBuffer keeps at most max bytes and drops the rest.
// Writes always report full length so producers are not failed.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func newLimitedBuffer(max int64) *limitedBuffer {
	if max <= 0 {
		max = defaultOutputMaxBytes
	}
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func outputLimit(runLimit, engineLimit int64) int64 {
	if runLimit > 0 && (engineLimit <= 0 || runLimit < engineLimit) {
		return runLimit
	}
	if engineLimit > 0 {
		return engineLimit
	}
	return defaultOutputMaxBytes
}
