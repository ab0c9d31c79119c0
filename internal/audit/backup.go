package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EventsDir is the subdirectory of the audit directory holding one JSON
// file per event.
const EventsDir = "events"

// FileBackup writes events to local JSON files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates <dir>/events.
func NewFileBackup(dir string) (*FileBackup, error) {
	dir = filepath.Join(dir, EventsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Dir returns the directory events are written to.
func (f *FileBackup) Dir() string { return f.dir }

// Save writes evt as {model}_{level}_{mode}_{entry_id}.json and returns
// the file path.
func (f *FileBackup) Save(evt *Event) (string, error) {
	name := strings.ReplaceAll(evt.Retrieval.ChainKey(), "/", "_") + "_" + evt.Retrieval.EntryID + ".json"
	path := filepath.Join(f.dir, name)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write event: %w", err)
	}
	return path, nil
}

// Load reads every saved event, ordered by timestamp.
func (f *FileBackup) Load() ([]Event, error) {
	paths, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		events = append(events, evt)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
