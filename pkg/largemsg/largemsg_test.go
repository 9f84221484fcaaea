package largemsg

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLargeMsg(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Large-Message Protocol Suite")
}

var _ = Describe("Split and Reassemble", func() {
	It("splits content into chunks of at most ChunkBytes", func() {
		content := bytes.Repeat([]byte("x"), ChunkBytes*3+17)
		chunks := Split("group-1", content)

		Expect(chunks).To(HaveLen(4))
		for _, c := range chunks {
			Expect(len(c.Data)).To(BeNumerically("<=", ChunkBytes))
			Expect(c.Total).To(Equal(4))
			Expect(c.GroupID).To(Equal("group-1"))
		}
	})

	It("reassembles chunks delivered in order", func() {
		content := []byte("the quick brown fox jumps over the lazy dog")
		chunks := Split("g", content)

		r := NewReassembler("g", len(chunks))
		for _, c := range chunks {
			Expect(r.Add(c)).To(Succeed())
		}
		Expect(r.Complete()).To(BeTrue())

		out, err := r.Reassemble()
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(content))
	})

	It("reassembles chunks delivered out of order", func() {
		content := bytes.Repeat([]byte("ab"), ChunkBytes)
		chunks := Split("g", content)

		r := NewReassembler("g", len(chunks))
		for i := len(chunks) - 1; i >= 0; i-- {
			Expect(r.Add(chunks[i])).To(Succeed())
		}

		out, err := r.Reassemble()
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(content))
	})

	It("rejects a chunk whose payload does not match its chunk_hash", func() {
		chunks := Split("g", []byte("hello world"))
		chunks[0].Data = []byte("tampered!!!")

		r := NewReassembler("g", len(chunks))
		err := r.Add(chunks[0])
		Expect(err).To(Equal(ErrChunkHashMismatch))
	})

	It("rejects a chunk belonging to a different group", func() {
		chunks := Split("g1", []byte("hello"))
		r := NewReassembler("g2", len(chunks))
		err := r.Add(chunks[0])
		Expect(err).To(Equal(ErrForeignChunk))
	})

	It("reports missing indices before reassembly is complete", func() {
		content := bytes.Repeat([]byte("z"), ChunkBytes*3)
		chunks := Split("g", content)

		r := NewReassembler("g", len(chunks))
		Expect(r.Add(chunks[0])).To(Succeed())
		Expect(r.Add(chunks[2])).To(Succeed())

		Expect(r.Complete()).To(BeFalse())
		Expect(r.Missing()).To(ConsistOf(1))
	})

	It("detects a corrupted group hash after a tampered chunk still individually verifies", func() {
		content := []byte("abc")
		chunks := Split("g", content)
		chunks[0].GroupHash = "0000000000000000000000000000000000000000000000000000000000000000"

		r := NewReassembler("g", len(chunks))
		Expect(r.Add(chunks[0])).To(Succeed())

		_, err := r.Reassemble()
		Expect(err).To(Equal(ErrGroupHashMismatch))
	})
})
