// Package integrity implements the SHA-256 content validator (C1): ingress
// hashing, verification of a prior metadata record against new content, and
// chained re-stamping across transform boundaries.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	bridgeerrors "github.com/cctelegram/bridge/internal/errors"
)

// Checkpoint identifies a stage boundary along a single transform path.
type Checkpoint string

const (
	CheckpointIngress     Checkpoint = "ingress"
	CheckpointBuffer      Checkpoint = "buffer"
	CheckpointCompression Checkpoint = "compression"
	CheckpointQueue       Checkpoint = "queue"
	CheckpointFilesystem  Checkpoint = "filesystem"
	CheckpointEgress      Checkpoint = "egress"
)

// Severity classifies an integrity Failure for alerting/logging purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Metadata is the validation chain record threaded alongside content as it
// crosses component boundaries (spec §3 "Validation Metadata Chain").
type Metadata struct {
	CorrelationID string
	Checkpoint    Checkpoint
	ContentHash   string
	ContentSize   int
	ChainDepth    int
	PreviousHash  string
}

// Result is the outcome of a verify call.
type Result struct {
	OK       bool
	Failure  *Failure
}

// Failure describes why verify/chain rejected content.
type Failure struct {
	Kind     string // "truncation" | "corruption" | "processing"
	Severity Severity
	Message  string
}

func (f *Failure) Error() string { return f.Kind + ": " + f.Message }

func truncation(msg string) *Failure {
	return &Failure{Kind: "truncation", Severity: SeverityHigh, Message: msg}
}

func corruption(msg string) *Failure {
	return &Failure{Kind: "corruption", Severity: SeverityCritical, Message: msg}
}

func processing(msg string) *Failure {
	return &Failure{Kind: "processing", Severity: SeverityMedium, Message: msg}
}

// Validator computes and verifies content hashes and threads the chain depth
// forward across checkpoints.
type Validator struct {
	// ChainValidation, when true, re-verifies the incoming hash before
	// stamping a new chain entry in Chain(). Disabled it accepts the
	// previous metadata on faith (useful for pass-through stages that
	// never touch bytes).
	ChainValidation bool
}

// New returns a Validator with chain validation enabled by default.
func New() *Validator {
	return &Validator{ChainValidation: true}
}

// Validate hashes content and stamps a fresh, zero-depth Metadata record.
func (v *Validator) Validate(content []byte, checkpoint Checkpoint, correlationID string) (Metadata, error) {
	hash, err := hashContent(content)
	if err != nil {
		return Metadata{}, bridgeerrors.Wrap(err, bridgeerrors.ErrorTypeIntegrity, "failed to hash content")
	}
	return Metadata{
		CorrelationID: correlationID,
		Checkpoint:    checkpoint,
		ContentHash:   hash,
		ContentSize:   len(content),
		ChainDepth:    0,
	}, nil
}

// Verify checks content against a previously stamped Metadata record. Size
// is compared first (cheap truncation signal), then the hash is compared in
// constant time (corruption signal).
func (v *Validator) Verify(content []byte, meta Metadata) Result {
	if len(content) != meta.ContentSize {
		return Result{OK: false, Failure: truncation("content size does not match recorded metadata")}
	}
	hash, err := hashContent(content)
	if err != nil {
		return Result{OK: false, Failure: processing("failed to recompute hash")}
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(meta.ContentHash)) != 1 {
		return Result{OK: false, Failure: corruption("content hash does not match recorded metadata")}
	}
	return Result{OK: true}
}

// Chain re-verifies original against its prior Metadata (when ChainValidation
// is enabled) then stamps a new Metadata record for transformed, referencing
// the prior hash and incrementing ChainDepth — modelling a single monotonic
// transform path (spec §3/§9).
func (v *Validator) Chain(original, transformed []byte, from Checkpoint, to Checkpoint, meta Metadata) (Metadata, error) {
	if v.ChainValidation {
		if res := v.Verify(original, meta); !res.OK {
			return Metadata{}, res.Failure
		}
	}
	newHash, err := hashContent(transformed)
	if err != nil {
		return Metadata{}, processing("failed to hash transformed content")
	}
	return Metadata{
		CorrelationID: meta.CorrelationID,
		Checkpoint:    to,
		ContentHash:   newHash,
		ContentSize:   len(transformed),
		ChainDepth:    meta.ChainDepth + 1,
		PreviousHash:  meta.ContentHash,
	}, nil
}

func hashContent(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// ShortHash renders the first 8 hex characters for log lines; full hashes
// are never logged (spec §4.1).
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
