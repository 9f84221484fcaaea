package events

import "time"

// ResponseKind enumerates the possible shapes of an inbound chat response.
type ResponseKind string

const (
	ResponseKindAck          ResponseKind = "ack"
	ResponseKindApprove      ResponseKind = "approve"
	ResponseKindDeny         ResponseKind = "deny"
	ResponseKindFreeText     ResponseKind = "free_text"
	ResponseKindCommandResult ResponseKind = "command_result"
)

// Response is written by the Response Correlator (C8) to the responses
// directory for the assistant-side client to pick up (spec §3/§6).
type Response struct {
	ResponseID   string       `json:"response_id"`
	CorrelatesTo string       `json:"correlates_to"`
	UserID       int64        `json:"user_id"`
	Kind         ResponseKind `json:"kind"`
	Payload      string       `json:"payload,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Signature    string       `json:"signature,omitempty"`
}

// Fingerprint is the dedup identity tuple described in spec §3.
type Fingerprint struct {
	EventID     string
	ContentHash string
	Type        Type
	ReceivedAt  time.Time
}
