package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
)

// Emitter records audit events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// Config selects the audit destination. Events are always written under
// Dir; Endpoint additionally receives each one over HTTP.
type Config struct {
	Enabled  bool
	Dir      string
	Endpoint string
	Producer ProducerInfo
}

// NewEmitter returns a no-op emitter when cfg is disabled.
func NewEmitter(cfg Config, log *slog.Logger) (Emitter, error) {
	log = logging.Component(log, "audit")

	if !cfg.Enabled {
		return noopEmitter{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("audit directory not set")
	}

	chain, err := NewChainTracker(cfg.Dir)
	if err != nil {
		return nil, err
	}
	backup, err := NewFileBackup(cfg.Dir)
	if err != nil {
		return nil, err
	}

	e := &ChainEmitter{chain: chain, backup: backup, producer: cfg.Producer, log: log}
	if cfg.Endpoint != "" {
		e.poster = NewHTTPPoster(cfg.Endpoint, log)
		log.Info("audit events posted", "endpoint", cfg.Endpoint, "dir", backup.Dir())
	} else {
		log.Info("audit events written locally", "dir", backup.Dir())
	}
	return e, nil
}

// ChainEmitter links each event to the head of its chain, saves it and
// optionally posts it. The chain head only advances once every
// destination has accepted the event.
type ChainEmitter struct {
	// Emits are serialized so two events never claim the same predecessor.
	mu sync.Mutex

	chain    *ChainTracker
	backup   *FileBackup
	poster   *HTTPPoster
	producer ProducerInfo
	log      *slog.Logger
}

func (e *ChainEmitter) Emit(ctx context.Context, evt *Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := evt.Retrieval.ChainKey()
	prev, err := e.chain.GetHead(key)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = newEventID()
	evt.Timestamp = time.Now().UTC()
	if evt.Producer == (ProducerInfo{}) {
		evt.Producer = e.producer
	}
	evt.SetChainHashes(prev)

	path, err := e.backup.Save(evt)
	if err != nil {
		return err
	}
	if e.poster != nil {
		if err := e.poster.Post(ctx, evt); err != nil {
			// Not part of the chain; keep it off disk.
			os.Remove(path)
			return fmt.Errorf("post audit event: %w", err)
		}
	}
	if err := e.chain.SetHead(key, evt.Chain.EventHash); err != nil {
		return fmt.Errorf("update chain head: %w", err)
	}

	e.log.Debug("audit event emitted",
		"chain", key,
		"entry_id", evt.Retrieval.EntryID,
		"event_hash", evt.Chain.EventHash,
		"prev_event_hash", prev,
		"file", path)
	return nil
}

func (e *ChainEmitter) Close() error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *Event) error { return nil }
func (noopEmitter) Close() error                        { return nil }
