// Package pvconfig holds the declarative object→PV mapping the engine
// imports from, plus its startup validation.
package pvconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"pvimport/internal/logs"
)

// ErrConfig marks any configuration violation. It is fatal at startup.
var ErrConfig = errors.New("pv import configuration error")

// SlotCount is the number of measurement slots per object.
const SlotCount = 5

// Entry maps one managed object to its logging cadence and channel
// assignment. Measurements is keyed "1".."5"; a missing or null slot is
// unassigned.
type Entry struct {
	ObjectID      uint               `json:"object_id"`
	LoggingPeriod int                `json:"logging_period"` // minutes
	Measurements  map[string]*string `json:"measurements"`
}

// Channel returns the short channel name assigned to a 1-based slot.
func (e Entry) Channel(slot int) (string, bool) {
	s, ok := e.Measurements[fmt.Sprintf("%d", slot)]
	if !ok || s == nil || *s == "" {
		return "", false
	}
	return *s, true
}

// ChannelNames returns the distinct non-null channel short names of the
// entry, in slot order.
func (e Entry) ChannelNames() []string {
	seen := map[string]bool{}
	var out []string
	for slot := 1; slot <= SlotCount; slot++ {
		if name, ok := e.Channel(slot); ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// HasChannels reports whether at least one slot is assigned.
func (e Entry) HasChannels() bool {
	return len(e.ChannelNames()) > 0
}

type fileLayout struct {
	Records []Entry `json:"records"`
}

// Store is the persistent record list. Writes replace the whole file
// atomically (write to temp, rename), so a concurrent reader sees either
// the old or the new content, never a torn one.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Entry
}

// Load reads the records file. A missing file yields an empty store;
// the editor creates it on first save.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logs.Logger.Warnf("records file %s does not exist yet", path)
			return s, nil
		}
		return nil, fmt.Errorf("read records file: %w", err)
	}
	var f fileLayout
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	s.records = f.Records
	return s, nil
}

// Entries returns a copy of all records.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.records))
	copy(out, s.records)
	return out
}

// EntryByID returns the record for an object id.
func (s *Store) EntryByID(id uint) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.records {
		if e.ObjectID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ObjectIDs returns the managed object ids, sorted.
func (s *Store) ObjectIDs() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.ObjectID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Add appends a record, or with overwrite replaces the record with the
// same object id. Overwriting a missing id is a warning, not an error.
func (s *Store) Add(e Entry, overwrite bool) error {
	if !e.HasChannels() {
		return fmt.Errorf("%w: object %d has no measurement PVs", ErrConfig, e.ObjectID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if overwrite {
		for i := range s.records {
			if s.records[i].ObjectID == e.ObjectID {
				s.records[i] = e
				return s.save()
			}
		}
		logs.Logger.Warnf("overwrite requested but object %d has no record", e.ObjectID)
		return nil
	}
	s.records = append(s.records, e)
	return s.save()
}

// Delete removes the record for an object id.
func (s *Store) Delete(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ObjectID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return s.save()
		}
	}
	logs.Logger.Warnf("delete requested but object %d has no record", id)
	return nil
}

func (s *Store) save() error {
	raw, err := json.MarshalIndent(fileLayout{Records: s.records}, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pv_records-*")
	if err != nil {
		return fmt.Errorf("write records file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
