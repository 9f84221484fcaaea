package bufferpool

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBufferPool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dynamic Buffer Pool Suite")
}

var _ = Describe("Pool", func() {
	It("reuses a released buffer on the next acquire of the same size class", func() {
		p := New(4)
		b1 := p.Acquire(1024)
		p.Release(b1)

		b2 := p.Acquire(1024)
		stats := p.Stats()
		Expect(stats.Hits).To(Equal(int64(1)))
		Expect(stats.Misses).To(Equal(int64(1)))
		Expect(len(b2.Bytes)).To(Equal(1024))
	})

	It("zero-fills a buffer's contents on release", func() {
		p := New(4)
		b := p.Acquire(16)
		for i := range b.Bytes {
			b.Bytes[i] = 0xFF
		}
		p.Release(b)

		b2 := p.Acquire(16)
		for _, v := range b2.Bytes {
			Expect(v).To(Equal(byte(0)))
		}
	})

	It("falls through to direct allocation for requests over the standard size", func() {
		p := New(4)
		b := p.Acquire(StdBufSize + 1)
		Expect(len(b.Bytes)).To(Equal(StdBufSize + 1))

		p.Release(b)
		stats := p.Stats()
		Expect(stats.RetainedCount).To(Equal(int64(0)))
	})

	It("does not retain more buffers than its configured maximum", func() {
		p := New(2)
		var bufs []*Buf
		for i := 0; i < 5; i++ {
			bufs = append(bufs, p.Acquire(100))
		}
		for _, b := range bufs {
			p.Release(b)
		}
		Expect(p.Stats().RetainedCount).To(BeNumerically("<=", 2))
	})

	It("concatenates buffers into one contiguous result", func() {
		p := New(4)
		a := p.Acquire(3)
		copy(a.Bytes, []byte("foo"))
		b := p.Acquire(3)
		copy(b.Bytes, []byte("bar"))

		out := p.Concat([]*Buf{a, b})
		Expect(string(out.Bytes)).To(Equal("foobar"))
	})

	It("reports a hit rate of zero before any acquisitions", func() {
		p := New(4)
		Expect(p.HitRate()).To(Equal(0.0))
	})

	It("halves retained capacity under memory pressure and recovers once pressure subsides", func() {
		p := New(10)
		var bufs []*Buf
		for i := 0; i < 10; i++ {
			bufs = append(bufs, p.Acquire(100))
		}
		for _, b := range bufs {
			p.Release(b)
		}
		Expect(p.Stats().RetainedCount).To(Equal(int64(10)))

		p.NotePressure(DefaultPressureThresholdBytes + 1)
		Expect(p.Stats().RetainedCount).To(BeNumerically("<=", 5))

		p.NotePressure(0)
		Expect(p.currentCap()).To(Equal(10))
	})
})
