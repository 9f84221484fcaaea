package validation

import (
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cctelegram/bridge/pkg/events"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Event Validator Suite")
}

func sampleEvent() events.Event {
	return events.Event{
		EventID:     events.NewEventID(),
		Type:        events.TypeTaskCompletion,
		Timestamp:   time.Now().UTC(),
		Title:       "Task finished",
		Description: "The background task completed successfully.",
		Data: map[string]interface{}{
			"task_id": "abc-123",
			"status":  "success",
		},
	}
}

var _ = Describe("Validator", func() {
	var v *Validator

	BeforeEach(func() {
		v = New()
	})

	It("accepts a well-formed event", func() {
		Expect(v.Validate(sampleEvent())).To(Succeed())
	})

	It("rejects a missing event_id", func() {
		e := sampleEvent()
		e.EventID = ""
		err := v.Validate(e)
		Expect(err).To(HaveOccurred())
		Expect(err.(*ValidationError).Kind).To(Equal(ErrMissingRequiredField))
	})

	It("rejects a non-UUID event_id", func() {
		e := sampleEvent()
		e.EventID = "not-a-uuid"
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrInvalidUUID))
	})

	It("rejects a zero timestamp", func() {
		e := sampleEvent()
		e.Timestamp = time.Time{}
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrInvalidTimestamp))
	})

	DescribeTable("title length boundaries",
		func(length int, wantErr bool) {
			e := sampleEvent()
			e.Title = strings.Repeat("a", length)
			err := v.Validate(e)
			if wantErr {
				Expect(err).To(HaveOccurred())
				Expect(err.(*ValidationError).Kind).To(Equal(ErrTitleOutOfRange))
			} else {
				Expect(err).ToNot(HaveOccurred())
			}
		},
		Entry("zero length is rejected", 0, true),
		Entry("minimum length is accepted", 1, false),
		Entry("maximum length is accepted", 200, false),
		Entry("201 characters is rejected", 201, true),
	)

	It("rejects a description of 2001 characters", func() {
		e := sampleEvent()
		e.Description = strings.Repeat("b", 2001)
		err := v.Validate(e)
		Expect(err).To(HaveOccurred())
		Expect(err.(*ValidationError).Kind).To(Equal(ErrDescriptionOutOfRange))
	})

	It("rejects a title containing a null byte", func() {
		e := sampleEvent()
		e.Title = "bad\x00title"
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrNullByteDetected))
		Expect(err.(*ValidationError).Severity).To(Equal(SeverityCritical))
	})

	It("rejects a title containing control characters", func() {
		e := sampleEvent()
		e.Title = "bad\x01title"
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrForbiddenCharacters))
	})

	It("rejects a task_id longer than 64 characters", func() {
		e := sampleEvent()
		e.TaskID = strings.Repeat("t", 65)
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrTaskIDTooLong))
	})

	It("rejects a malformed correlation_id", func() {
		e := sampleEvent()
		e.CorrelationID = "nope"
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrInvalidUUID))
	})

	It("rejects data exceeding the 64 KiB ceiling", func() {
		e := sampleEvent()
		big := strings.Repeat("x", 70*1024)
		e.Data = map[string]interface{}{"task_id": "abc", "status": "ok", "blob": big}
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrPayloadTooLarge))
	})

	It("rejects an unrecognized event type", func() {
		e := sampleEvent()
		e.Type = events.TypeUnknown
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrInvalidEventType))
		Expect(err.(*ValidationError).Severity).To(Equal(SeverityWarning))
	})

	It("enforces per-type required data fields", func() {
		e := sampleEvent()
		e.Type = events.TypeApprovalRequest
		e.Data = map[string]interface{}{"status": "pending"} // missing task_id
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrBusinessRuleViolation))
		Expect(err.(*ValidationError).Field).To(Equal("task_id"))
	})

	It("rejects correlation_id equal to task_id", func() {
		e := sampleEvent()
		id := events.NewEventID()
		e.CorrelationID = id
		e.TaskID = id
		err := v.Validate(e)
		Expect(err.(*ValidationError).Kind).To(Equal(ErrCrossFieldInconsistency))
	})

	It("produces a human-readable message including the field name", func() {
		e := sampleEvent()
		e.Title = ""
		err := v.Validate(e)
		Expect(err.Error()).To(ContainSubstring("title"))
		Expect(err.Error()).To(ContainSubstring("title_out_of_range"))
	})
})
