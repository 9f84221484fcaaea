// Package largemsg implements the Large-Message Protocol (C10): splitting a
// payload that would exceed the chat medium's per-message size into
// integrity-checked chunks, and reassembling them on the inbound side.
package largemsg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// ChunkBytes bounds how much payload a single chunk carries, chosen so a
// rendered chunk comfortably fits in one chat-medium send.
const ChunkBytes = 3500

// Chunk is one piece of a split payload, carrying enough metadata to detect
// loss, reordering, and corruption independently of the transport.
type Chunk struct {
	GroupID   string `json:"group_id"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Data      []byte `json:"data"`
	ChunkHash string `json:"chunk_hash"`
	GroupHash string `json:"group_hash"`
}

// Split divides content into chunks of at most ChunkBytes, each stamped with
// its own hash and the hash of the full concatenated content.
func Split(groupID string, content []byte) []Chunk {
	groupHash := hashOf(content)
	total := (len(content) + ChunkBytes - 1) / ChunkBytes
	if total == 0 {
		total = 1
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * ChunkBytes
		end := start + ChunkBytes
		if end > len(content) {
			end = len(content)
		}
		data := content[start:end]
		chunks = append(chunks, Chunk{
			GroupID:   groupID,
			Index:     i,
			Total:     total,
			Data:      data,
			ChunkHash: hashOf(data),
			GroupHash: groupHash,
		})
	}
	return chunks
}

// Reassembler accumulates chunks for a single group and reassembles the
// original content once every index has arrived and verified.
type Reassembler struct {
	groupID string
	total   int
	have    map[int]Chunk
}

// NewReassembler begins tracking a group expected to carry total chunks.
func NewReassembler(groupID string, total int) *Reassembler {
	return &Reassembler{groupID: groupID, total: total, have: make(map[int]Chunk)}
}

// ErrChunkHashMismatch indicates a chunk's payload does not match its
// recorded chunk_hash.
var ErrChunkHashMismatch = fmt.Errorf("chunk hash mismatch")

// ErrGroupHashMismatch indicates a completed reassembly's concatenation does
// not match the group_hash every chunk carried.
var ErrGroupHashMismatch = fmt.Errorf("group hash mismatch")

// ErrForeignChunk indicates a chunk belongs to a different group or declares
// a different total than this Reassembler was constructed for.
var ErrForeignChunk = fmt.Errorf("chunk does not belong to this group")

// Add records c, verifying its chunk_hash immediately. Returns an error if
// the chunk fails verification or does not belong to this group.
func (r *Reassembler) Add(c Chunk) error {
	if c.GroupID != r.groupID || c.Total != r.total {
		return ErrForeignChunk
	}
	if hashOf(c.Data) != c.ChunkHash {
		return ErrChunkHashMismatch
	}
	r.have[c.Index] = c
	return nil
}

// Missing returns the indices not yet received, in ascending order.
func (r *Reassembler) Missing() []int {
	var missing []int
	for i := 0; i < r.total; i++ {
		if _, ok := r.have[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}

// Complete reports whether every chunk has arrived.
func (r *Reassembler) Complete() bool {
	return len(r.have) == r.total
}

// Reassemble concatenates all chunks in index order and verifies the result
// against the group_hash every chunk carried. If any chunk is still
// missing it returns an error listing the indices Missing reports.
func (r *Reassembler) Reassemble() ([]byte, error) {
	if !r.Complete() {
		return nil, fmt.Errorf("reassembly incomplete: missing %v", r.Missing())
	}

	var out []byte
	var groupHash string
	for i := 0; i < r.total; i++ {
		c := r.have[i]
		out = append(out, c.Data...)
		groupHash = c.GroupHash
	}

	if hashOf(out) != groupHash {
		return nil, ErrGroupHashMismatch
	}
	return out, nil
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
