// Package correlator implements the Response Correlator (C8): parses
// inbound chat callbacks, gates them through authorization and rate
// limiting, drives the approval-flow state machine, and durably writes
// Response files for the assistant-side client to pick up.
package correlator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/pkg/chat"
	"github.com/cctelegram/bridge/pkg/events"
	"github.com/cctelegram/bridge/pkg/ratelimit"
)

// ApprovalState is one state of the approval-flow state machine.
type ApprovalState string

const (
	StateAwaitingResponse ApprovalState = "awaiting_response"
	StateResponded        ApprovalState = "responded"
	StateExpired          ApprovalState = "expired"
)

// PendingApproval tracks one outstanding approval_request awaiting a user
// decision.
type PendingApproval struct {
	TaskID    string
	CreatedAt time.Time
	Deadline  time.Time
	State     ApprovalState
}

// Correlator matches inbound callbacks to pending approvals and emits
// Response files.
type Correlator struct {
	responsesDir string
	authorizer   *ratelimit.Authorizer
	limiter      *ratelimit.Limiter
	sanitizer    *ratelimit.Sanitizer
	logger       *logrus.Logger

	mu      sync.Mutex
	pending map[string]*PendingApproval
}

// New builds a Correlator that writes response files under responsesDir and
// gates callbacks through authorizer/limiter.
func New(responsesDir string, authorizer *ratelimit.Authorizer, limiter *ratelimit.Limiter, logger *logrus.Logger) *Correlator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Correlator{
		responsesDir: responsesDir,
		authorizer:   authorizer,
		limiter:      limiter,
		sanitizer:    ratelimit.NewSanitizer(),
		logger:       logger,
		pending:      make(map[string]*PendingApproval),
	}
}

// RegisterApproval begins tracking an approval_request dispatched for
// taskID, due by deadline.
func (c *Correlator) RegisterApproval(taskID string, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[taskID] = &PendingApproval{
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
		Deadline:  deadline,
		State:     StateAwaitingResponse,
	}
}

// ErrUnauthorized means the callback's user_id is not on the allowlist.
var ErrUnauthorized = fmt.Errorf("user is not authorized")

// ErrRateLimited means the user has exceeded their callback rate budget.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// ErrUnknownTask means the callback referenced a task with no pending (or
// already-resolved) approval.
var ErrUnknownTask = fmt.Errorf("no pending approval for task")

// HandleCallback authorizes, rate-limits, sanitizes, and parses a raw
// callback value, advances the approval state machine, and durably writes
// the resulting Response (spec §4.8).
func (c *Correlator) HandleCallback(userID int64, rawValue string) (events.Response, error) {
	if !c.authorizer.IsAuthorized(userID) {
		return events.Response{}, ErrUnauthorized
	}
	if c.limiter != nil {
		if ok, _ := c.limiter.Allow(userID); !ok {
			return events.Response{}, ErrRateLimited
		}
	}
	clean, err := c.sanitizer.Sanitize(rawValue)
	if err != nil {
		return events.Response{}, fmt.Errorf("sanitize callback: %w", err)
	}

	cb := chat.ParseCallback(clean, userID)

	switch cb.Kind {
	case chat.CallbackApprove, chat.CallbackDeny:
		return c.resolveApproval(cb, userID)
	case chat.CallbackCommand:
		return c.commandResponse(cb, userID)
	default:
		return c.freeTextResponse(userID, clean)
	}
}

func (c *Correlator) resolveApproval(cb chat.Callback, userID int64) (events.Response, error) {
	c.mu.Lock()
	pa, ok := c.pending[cb.TaskID]
	if !ok {
		c.mu.Unlock()
		return events.Response{}, ErrUnknownTask
	}
	if pa.State != StateAwaitingResponse {
		c.mu.Unlock()
		return events.Response{}, fmt.Errorf("task %s is no longer awaiting a response (state=%s)", cb.TaskID, pa.State)
	}
	pa.State = StateResponded
	c.mu.Unlock()

	kind := events.ResponseKindApprove
	if cb.Kind == chat.CallbackDeny {
		kind = events.ResponseKindDeny
	}

	resp := events.Response{
		ResponseID:   newID(),
		CorrelatesTo: cb.TaskID,
		UserID:       userID,
		Kind:         kind,
		Timestamp:    time.Now().UTC(),
	}
	return resp, c.writeResponse(resp)
}

func (c *Correlator) commandResponse(cb chat.Callback, userID int64) (events.Response, error) {
	resp := events.Response{
		ResponseID:   newID(),
		CorrelatesTo: cb.Command,
		UserID:       userID,
		Kind:         events.ResponseKindCommandResult,
		Payload:      cb.Command,
		Timestamp:    time.Now().UTC(),
	}
	return resp, c.writeResponse(resp)
}

func (c *Correlator) freeTextResponse(userID int64, text string) (events.Response, error) {
	resp := events.Response{
		ResponseID: newID(),
		UserID:     userID,
		Kind:       events.ResponseKindFreeText,
		Payload:    text,
		Timestamp:  time.Now().UTC(),
	}
	return resp, c.writeResponse(resp)
}

// SweepExpired transitions any pending approval past its deadline to
// Expired and emits an expiry Response for each, returning the task IDs
// that expired this pass.
func (c *Correlator) SweepExpired(now time.Time) []string {
	var expired []string
	c.mu.Lock()
	for taskID, pa := range c.pending {
		if pa.State == StateAwaitingResponse && now.After(pa.Deadline) {
			pa.State = StateExpired
			expired = append(expired, taskID)
		}
	}
	c.mu.Unlock()

	for _, taskID := range expired {
		resp := events.Response{
			ResponseID:   newID(),
			CorrelatesTo: taskID,
			Kind:         events.ResponseKindCommandResult,
			Payload:      "expired",
			Timestamp:    now.UTC(),
		}
		if err := c.writeResponse(resp); err != nil {
			c.logger.WithError(err).WithField("task_id", taskID).Warn("failed to write expiry response")
		}
	}
	return expired
}

// writeResponse durably writes r to the responses directory via a
// temp-file-then-rename sequence, with file mode 0600 since response
// payloads may carry user-submitted text (spec §4.8).
func (c *Correlator) writeResponse(r events.Response) error {
	if err := os.MkdirAll(c.responsesDir, 0o755); err != nil {
		return fmt.Errorf("create responses dir: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	dest := filepath.Join(c.responsesDir, r.ResponseID+".json")
	tmp, err := os.CreateTemp(c.responsesDir, r.ResponseID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp response file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp response file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp response file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp response file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp response file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename response file into place: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}
