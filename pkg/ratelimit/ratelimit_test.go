package ratelimit

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRateLimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rate Limit Suite")
}

var _ = Describe("Authorizer", func() {
	It("authorizes only configured user ids", func() {
		a := NewAuthorizer([]int64{111, 222})
		Expect(a.IsAuthorized(111)).To(BeTrue())
		Expect(a.IsAuthorized(333)).To(BeFalse())
	})

	It("authorizes nobody when the allowlist is empty", func() {
		a := NewAuthorizer(nil)
		Expect(a.IsAuthorized(111)).To(BeFalse())
	})
})

var _ = Describe("Limiter", func() {
	It("allows requests within the burst and tracks users independently", func() {
		l := NewLimiter(2, time.Minute)

		ok, _ := l.Allow(1)
		Expect(ok).To(BeTrue())
		ok, _ = l.Allow(1)
		Expect(ok).To(BeTrue())

		ok, retryAfter := l.Allow(1)
		Expect(ok).To(BeFalse())
		Expect(retryAfter).To(BeNumerically(">", 0))

		ok, _ = l.Allow(2)
		Expect(ok).To(BeTrue(), "a different user must not be throttled by user 1's burst")
	})
})

var _ = Describe("Sanitizer", func() {
	var s *Sanitizer

	BeforeEach(func() {
		s = NewSanitizer()
	})

	It("strips control characters", func() {
		out, err := s.Sanitize("hello\x01world")
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal("helloworld"))
	})

	It("rejects path traversal sequences", func() {
		_, err := s.Sanitize("../../etc/passwd")
		Expect(err).To(HaveOccurred())
	})

	It("passes clean input through unchanged", func() {
		out, err := s.Sanitize("approve_task-123")
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal("approve_task-123"))
	})
})
