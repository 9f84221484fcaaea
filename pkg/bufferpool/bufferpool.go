// Package bufferpool implements the Dynamic Buffer Pool (C9): a bounded,
// size-classed pool of reusable byte buffers for large-payload handling
// along the chunking and queue-write paths.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// StdBufSize is the standard pooled buffer size. Acquire requests at or
// under this size are served from the pool; larger requests fall through to
// direct allocation and are never pooled.
const StdBufSize = 32 * 1024

// DefaultMaxBuffers bounds how many standard-size buffers the pool retains.
const DefaultMaxBuffers = 200

// DefaultPressureThresholdBytes is the resident memory level above which the
// pool halves its retained capacity (spec §5 memory pressure policy).
const DefaultPressureThresholdBytes = 150 * 1024 * 1024

// Buf is a pooled byte buffer. Callers must not retain a reference to Bytes
// after calling Release.
type Buf struct {
	Bytes  []byte
	pooled bool
}

// Stats is a read-only snapshot of pool activity, surfaced via C11.
type Stats struct {
	Hits          int64
	Misses        int64
	ActiveCount   int64
	RetainedCount int64
	TotalAllocBytes int64
}

// Pool is a bounded stack of reusable StdBufSize buffers.
type Pool struct {
	mu   sync.Mutex
	free [][]byte
	max  int

	hits            atomic.Int64
	misses          atomic.Int64
	active          atomic.Int64
	totalAllocBytes atomic.Int64

	pressureThreshold int64
	underPressure     atomic.Bool
}

// New builds a Pool retaining at most maxBuffers standard-size buffers.
func New(maxBuffers int) *Pool {
	if maxBuffers <= 0 {
		maxBuffers = DefaultMaxBuffers
	}
	return &Pool{
		max:               maxBuffers,
		pressureThreshold: DefaultPressureThresholdBytes,
	}
}

// Acquire returns a buffer of at least size bytes. Requests over StdBufSize
// always allocate directly and are not tracked as pool hits or misses.
func (p *Pool) Acquire(size int) *Buf {
	if size > StdBufSize {
		p.totalAllocBytes.Add(int64(size))
		return &Buf{Bytes: make([]byte, size), pooled: false}
	}

	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		p.hits.Add(1)
		p.active.Add(1)
		return &Buf{Bytes: b[:size], pooled: true}
	}
	p.mu.Unlock()

	p.misses.Add(1)
	p.active.Add(1)
	p.totalAllocBytes.Add(StdBufSize)
	return &Buf{Bytes: make([]byte, size, StdBufSize), pooled: true}
}

// Release returns b to the pool for reuse, zero-filling its contents first
// since pooled buffers may have carried sensitive payloads. Non-pooled (over
// size) buffers are simply dropped. Releasing above the pool's current cap
// also drops the buffer rather than growing the stack.
func (p *Pool) Release(b *Buf) {
	if b == nil || !b.pooled {
		return
	}
	p.active.Add(-1)

	full := b.Bytes[:cap(b.Bytes)]
	for i := range full {
		full[i] = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.currentCap() {
		return
	}
	p.free = append(p.free, full[:0])
}

// Concat returns a single buffer containing the concatenation of bufs,
// acquiring a buffer sized for the total and releasing none of the inputs
// (callers remain responsible for releasing bufs themselves).
func (p *Pool) Concat(bufs []*Buf) *Buf {
	total := 0
	for _, b := range bufs {
		total += len(b.Bytes)
	}
	out := p.Acquire(total)
	offset := 0
	for _, b := range bufs {
		copy(out.Bytes[offset:], b.Bytes)
		offset += len(b.Bytes)
	}
	return out
}

// NotePressure records an observed resident memory sample. When it exceeds
// the pool's pressure threshold the pool halves its retained capacity and
// will not grow back until a subsequent sample falls below the threshold.
func (p *Pool) NotePressure(residentBytes int64) {
	if residentBytes > p.pressureThreshold {
		if p.underPressure.CompareAndSwap(false, true) {
			p.mu.Lock()
			half := p.max / 2
			if half < 1 {
				half = 1
			}
			if len(p.free) > half {
				p.free = p.free[:half]
			}
			p.mu.Unlock()
		}
		return
	}
	p.underPressure.Store(false)
}

func (p *Pool) currentCap() int {
	if p.underPressure.Load() {
		half := p.max / 2
		if half < 1 {
			half = 1
		}
		return half
	}
	return p.max
}

// Stats returns a read-only snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	retained := int64(len(p.free))
	p.mu.Unlock()
	return Stats{
		Hits:            p.hits.Load(),
		Misses:          p.misses.Load(),
		ActiveCount:     p.active.Load(),
		RetainedCount:   retained,
		TotalAllocBytes: p.totalAllocBytes.Load(),
	}
}

// HitRate returns the fraction of Acquire calls (within StdBufSize) served
// from the pool rather than freshly allocated. Returns 0 when no requests
// have been observed yet.
func (p *Pool) HitRate() float64 {
	hits := p.hits.Load()
	misses := p.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
