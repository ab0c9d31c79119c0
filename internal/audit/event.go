// Package audit keeps a tamper-evident log of committed retrievals. Each
// event carries the hash of the previous event on its chain, so removing
// or editing a recorded event breaks every later hash.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// EventVersion is the version of the event layout.
	EventVersion = "1.0"
	// EventType marks a committed forecast retrieval.
	EventType = "forecast_retrieval"
)

// Event is one audit record.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Retrieval RetrievalInfo `json:"retrieval"`
	Files     []FileInfo    `json:"files"`
	Producer  ProducerInfo  `json:"producer"`
	Chain     ChainInfo     `json:"chain"`
}

// RetrievalInfo identifies the committed retrieval.
type RetrievalInfo struct {
	EntryID       string `json:"entry_id"`
	RetrievalID   string `json:"retrieval_id"`
	QueryID       string `json:"query_id"`
	Model         string `json:"model"`
	Level         string `json:"level"`
	RetrievalMode string `json:"retrieval_mode"`
	Issued        string `json:"issued"`
}

// FileInfo describes one file written by the retrieval, by its path
// relative to the landing root.
type FileInfo struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo identifies the software that wrote the files.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ChainInfo links an event to its predecessor.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey names the chain an event belongs to. Retrievals of one model,
// level and mode share a chain.
func (r RetrievalInfo) ChainKey() string {
	return r.Model + "/" + r.Level + "/" + r.RetrievalMode
}

// ComputeEventHash hashes the JSON encoding of evt with its own event hash
// blanked.
func ComputeEventHash(evt *Event) string {
	c := *evt
	c.Chain.EventHash = ""

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SetChainHashes links evt after prev and computes its hash. prev is
// empty for the first event of a chain.
func (evt *Event) SetChainHashes(prev string) {
	evt.Chain.PrevEventHash = prev
	evt.Chain.EventHash = ComputeEventHash(evt)
}

// Verify reports whether the stored hash matches the event contents.
func (evt *Event) Verify() bool {
	return evt.Chain.EventHash != "" && evt.Chain.EventHash == ComputeEventHash(evt)
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
