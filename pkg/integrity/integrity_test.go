package integrity

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIntegrity(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integrity Validator Suite")
}

var _ = Describe("Validator", func() {
	var v *Validator

	BeforeEach(func() {
		v = New()
	})

	It("verifies unmodified content successfully", func() {
		content := []byte(`{"hello":"world"}`)
		meta, err := v.Validate(content, CheckpointIngress, "corr-1")
		Expect(err).ToNot(HaveOccurred())

		res := v.Verify(content, meta)
		Expect(res.OK).To(BeTrue())
		Expect(res.Failure).To(BeNil())
	})

	It("detects truncation via size mismatch", func() {
		content := []byte(`{"hello":"world"}`)
		meta, _ := v.Validate(content, CheckpointIngress, "corr-1")

		truncated := content[:len(content)-3]
		res := v.Verify(truncated, meta)
		Expect(res.OK).To(BeFalse())
		Expect(res.Failure.Kind).To(Equal("truncation"))
		Expect(res.Failure.Severity).To(Equal(SeverityHigh))
	})

	It("detects corruption via hash mismatch at equal size", func() {
		content := []byte(`{"hello":"world1"}`)
		meta, _ := v.Validate(content, CheckpointIngress, "corr-1")

		tampered := []byte(`{"hello":"world2"}`) // same length, different bytes
		Expect(len(tampered)).To(Equal(len(content)))

		res := v.Verify(tampered, meta)
		Expect(res.OK).To(BeFalse())
		Expect(res.Failure.Kind).To(Equal("corruption"))
		Expect(res.Failure.Severity).To(Equal(SeverityCritical))
	})

	Describe("Chain", func() {
		It("deepens the chain and links the previous hash on a pass-through", func() {
			body1 := []byte("payload-1")
			ingress, _ := v.Validate(body1, CheckpointIngress, "corr-2")

			egress, err := v.Chain(body1, body1, CheckpointIngress, CheckpointEgress, ingress)
			Expect(err).ToNot(HaveOccurred())
			Expect(egress.ChainDepth).To(Equal(ingress.ChainDepth + 1))
			Expect(egress.PreviousHash).To(Equal(ingress.ContentHash))
			Expect(egress.ContentHash).To(Equal(ingress.ContentHash)) // content unchanged
		})

		It("rejects a chain step when the input no longer matches its metadata", func() {
			body1 := []byte("payload-1")
			body2 := []byte("payload-2-different")
			ingress, _ := v.Validate(body1, CheckpointIngress, "corr-3")

			_, err := v.Chain(body2, body2, CheckpointIngress, CheckpointEgress, ingress)
			Expect(err).To(HaveOccurred())
		})

		It("skips re-verification when chain validation is disabled", func() {
			v.ChainValidation = false
			body1 := []byte("payload-1")
			body2 := []byte("payload-2")
			ingress, _ := v.Validate(body1, CheckpointIngress, "corr-4")

			egress, err := v.Chain(body2, body2, CheckpointIngress, CheckpointEgress, ingress)
			Expect(err).ToNot(HaveOccurred())
			Expect(egress.PreviousHash).To(Equal(ingress.ContentHash))
		})
	})

	It("renders an 8-character short hash for logging", func() {
		content := []byte("anything")
		meta, _ := v.Validate(content, CheckpointIngress, "corr-5")
		Expect(ShortHash(meta.ContentHash)).To(HaveLen(8))
	})
})
