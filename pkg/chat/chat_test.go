package chat

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cctelegram/bridge/pkg/events"
)

func TestChat(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chat Suite")
}

var _ = Describe("RenderEvent", func() {
	It("renders a plain message for non-approval events", func() {
		e := events.Event{
			Type:        events.TypeTaskCompletion,
			Title:       "Deploy Complete",
			Description: "v2.1.0 deployed",
			Timestamp:   time.Now(),
		}
		msg := RenderEvent(e)
		Expect(msg.Text).To(ContainSubstring("Deploy Complete"))
		Expect(msg.Text).To(ContainSubstring("v2.1.0 deployed"))
		Expect(msg.Attachments).To(BeEmpty())
	})

	It("attaches approve/deny actions for approval requests", func() {
		e := events.Event{
			Type:        events.TypeApprovalRequest,
			Title:       "Approve deploy?",
			Description: "Deploying to prod",
			TaskID:      "task-42",
			Timestamp:   time.Now(),
		}
		msg := RenderEvent(e)
		Expect(msg.Attachments).To(HaveLen(1))
		Expect(msg.Attachments[0].Actions).To(HaveLen(2))
		Expect(msg.Attachments[0].Actions[0].Value).To(Equal("approve_task-42"))
		Expect(msg.Attachments[0].Actions[1].Value).To(Equal("deny_task-42"))
	})
})

var _ = Describe("ParseCallback", func() {
	It("parses an approve action", func() {
		cb := ParseCallback("approve_task-42", 111)
		Expect(cb.Kind).To(Equal(CallbackApprove))
		Expect(cb.TaskID).To(Equal("task-42"))
		Expect(cb.UserID).To(Equal(int64(111)))
	})

	It("parses a deny action", func() {
		cb := ParseCallback("deny_task-42", 111)
		Expect(cb.Kind).To(Equal(CallbackDeny))
		Expect(cb.TaskID).To(Equal("task-42"))
	})

	It("parses a command action", func() {
		cb := ParseCallback("cmd_status", 111)
		Expect(cb.Kind).To(Equal(CallbackCommand))
		Expect(cb.Command).To(Equal("status"))
	})

	It("classifies unrecognized values as unknown", func() {
		cb := ParseCallback("garbage", 111)
		Expect(cb.Kind).To(Equal(CallbackUnknown))
	})
})
