package tier

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cctelegram/bridge/pkg/events"
)

func TestTier(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tier Orchestrator Suite")
}

type fakeDispatcher struct {
	fn func(ctx context.Context, e events.Event) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, e events.Event) error { return f.fn(ctx, e) }

func sampleEvent() events.Event {
	return events.Event{EventID: events.NewEventID(), Type: events.TypeTaskCompletion, Title: "t", Description: "d"}
}

var _ = Describe("Orchestrator", func() {
	It("dispatches successfully through the first healthy tier", func() {
		webhook := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return nil }}
		o := New(nil, Config{Name: Webhook, Dispatcher: webhook, Timeout: 50 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second})

		attempts, err := o.Dispatch(context.Background(), sampleEvent())
		Expect(err).ToNot(HaveOccurred())
		Expect(attempts).To(HaveLen(1))
		Expect(attempts[0].Tier).To(Equal(Webhook))
		Expect(attempts[0].Outcome).To(Equal(OutcomeSuccess))
	})

	It("fails over to the next tier when the first fails", func() {
		webhook := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return errors.New("network error") }}
		internal := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return nil }}
		o := New(nil,
			Config{Name: Webhook, Dispatcher: webhook, Timeout: 50 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second},
			Config{Name: Internal, Dispatcher: internal, Timeout: 50 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second},
		)

		attempts, err := o.Dispatch(context.Background(), sampleEvent())
		Expect(err).ToNot(HaveOccurred())
		Expect(attempts).To(HaveLen(2))
		Expect(attempts[0].Tier).To(Equal(Webhook))
		Expect(attempts[0].Outcome).To(Equal(OutcomeDownstreamError))
		Expect(attempts[1].Tier).To(Equal(Internal))
		Expect(attempts[1].Outcome).To(Equal(OutcomeSuccess))
	})

	It("returns ErrAllTiersFailed when every tier fails", func() {
		failing := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return errors.New("boom") }}
		o := New(nil,
			Config{Name: Webhook, Dispatcher: failing, Timeout: 10 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second},
			Config{Name: File, Dispatcher: failing, Timeout: 10 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second},
		)

		_, err := o.Dispatch(context.Background(), sampleEvent())
		Expect(err).To(Equal(ErrAllTiersFailed))
	})

	It("skips a tier whose circuit has opened after consecutive failures", func() {
		calls := 0
		webhook := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error {
			calls++
			return errors.New("boom")
		}}
		internal := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return nil }}
		o := New(nil,
			Config{Name: Webhook, Dispatcher: webhook, Timeout: 10 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 2, CircuitCooldown: time.Hour},
			Config{Name: Internal, Dispatcher: internal, Timeout: 10 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second},
		)

		_, _ = o.Dispatch(context.Background(), sampleEvent())
		_, _ = o.Dispatch(context.Background(), sampleEvent())
		Expect(o.TierBreaker(Webhook).IsHealthy()).To(BeFalse())

		attempts, err := o.Dispatch(context.Background(), sampleEvent())
		Expect(err).ToNot(HaveOccurred())
		Expect(attempts).To(HaveLen(1))
		Expect(attempts[0].Tier).To(Equal(Internal))
		Expect(calls).To(Equal(2), "the open circuit should prevent a third webhook call")
	})

	It("notifies the onAttempt callback for every attempt", func() {
		var seen []Attempt
		webhook := &fakeDispatcher{fn: func(ctx context.Context, e events.Event) error { return nil }}
		o := New(nil, Config{Name: Webhook, Dispatcher: webhook, Timeout: 10 * time.Millisecond, MaxConcurrent: 10, ConsecutiveFailures: 3, CircuitCooldown: time.Second})
		o.OnAttempt(func(a Attempt) { seen = append(seen, a) })

		_, err := o.Dispatch(context.Background(), sampleEvent())
		Expect(err).ToNot(HaveOccurred())
		Expect(seen).To(HaveLen(1))
	})
})
