package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HistoryEntry is one record of the append-only, hash-chained audit trail.
// Entries are written in the same transaction as the state change they
// describe. Seq is dense per instance starting at 1; Hash covers the entry
// and the previous entry's hash, so any edit or deletion breaks the chain.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	InstanceID  int64     `json:"instance_id"`
	Seq         int64     `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	ActorID     string    `json:"actor_id"`
	EventType   string    `json:"event_type"`
	StageNumber int       `json:"stage_number,omitempty"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	PrevHash    string    `json:"prev_hash,omitempty"`
	Hash        string    `json:"hash"`
}

// ComputeHash derives the entry's chain hash from its content and PrevHash.
// The timestamp participates at nanosecond precision, so the stored column
// must round-trip it exactly.
func (e *HistoryEntry) ComputeHash() string {
	payload := fmt.Sprintf("%d|%d|%d|%s|%s|%d|%s|%s|%s|%s",
		e.InstanceID,
		e.Seq,
		e.Timestamp.UTC().UnixNano(),
		e.ActorID,
		e.EventType,
		e.StageNumber,
		e.Before,
		e.After,
		e.Detail,
		e.PrevHash,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Seal sets PrevHash from the preceding entry and computes this entry's hash.
// The first entry of an instance seals against the empty string.
func (e *HistoryEntry) Seal(prev *HistoryEntry) {
	if prev != nil {
		e.PrevHash = prev.Hash
		e.Seq = prev.Seq + 1
	} else {
		e.PrevHash = ""
		e.Seq = 1
	}
	e.Hash = e.ComputeHash()
}

// VerifyChain checks a full per-instance trail: dense sequence numbers,
// correct back-links, and recomputable hashes. It returns the sequence number
// of the first broken entry, or 0 if the chain is intact.
func VerifyChain(entries []*HistoryEntry) int64 {
	prevHash := ""
	var prevSeq int64
	for _, e := range entries {
		if e.Seq != prevSeq+1 {
			return e.Seq
		}
		if e.PrevHash != prevHash {
			return e.Seq
		}
		if e.ComputeHash() != e.Hash {
			return e.Seq
		}
		prevHash = e.Hash
		prevSeq = e.Seq
	}
	return 0
}
