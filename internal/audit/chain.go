package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ChainHeadsFile holds the last event hash of every chain.
const ChainHeadsFile = "audit-chain-heads.json"

// ErrNoChainHead is returned for a chain with no recorded event.
var ErrNoChainHead = errors.New("no chain head found")

// ChainTracker persists the head of each chain in dir.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string
	filePath string
}

// NewChainTracker loads the heads saved in dir, creating dir if needed.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{
		heads:    make(map[string]string),
		filePath: filepath.Join(dir, ChainHeadsFile),
	}
	if err := ct.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return ct, nil
}

// GetHead returns the last event hash of chainKey.
func (ct *ChainTracker) GetHead(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chainKey]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead records eventHash as the head of chainKey and saves all heads.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chainKey] = eventHash
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	tmp := ct.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ct.filePath)
}

// ErrBrokenChain is returned by VerifyChain for an event whose hash or
// predecessor does not match.
var ErrBrokenChain = errors.New("broken audit chain")

// VerifyChain checks events, in emission order, and returns the number of
// chains seen.
func VerifyChain(events []Event) (int, error) {
	heads := make(map[string]string)
	for i := range events {
		evt := &events[i]
		if !evt.Verify() {
			return 0, fmt.Errorf("%w: event %s hash mismatch", ErrBrokenChain, evt.EventID)
		}
		key := evt.Retrieval.ChainKey()
		if evt.Chain.PrevEventHash != heads[key] {
			return 0, fmt.Errorf("%w: event %s does not follow %q", ErrBrokenChain, evt.EventID, heads[key])
		}
		heads[key] = evt.Chain.EventHash
	}
	return len(heads), nil
}
