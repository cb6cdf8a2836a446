package bridge

import (
	"fmt"
	"time"
)

// Entry is the latest value observed for one qualified signal name.
type Entry struct {
	Value      float64
	ObservedAt time.Time
}

type SnapshotPolicy string

const (
	// PolicyHold keeps entries across sends (hold-last-value).
	PolicyHold SnapshotPolicy = "hold"
	// PolicyClear empties the store after every successful send (point-sample).
	PolicyClear SnapshotPolicy = "clear"
)

func ParseSnapshotPolicy(s string) (SnapshotPolicy, error) {
	switch SnapshotPolicy(s) {
	case PolicyHold, PolicyClear:
		return SnapshotPolicy(s), nil
	case "":
		return PolicyHold, nil
	}
	return "", fmt.Errorf("unknown snapshot policy %q (want hold or clear)", s)
}

// SnapshotStore maps qualified names to their latest entry, last write wins.
// It is owned by the control loop and is not safe for concurrent use.
type SnapshotStore struct {
	entries map[string]Entry
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{entries: make(map[string]Entry)}
}

func (s *SnapshotStore) Set(name string, v float64, now time.Time) {
	s.entries[name] = Entry{Value: v, ObservedAt: now}
}

func (s *SnapshotStore) Merge(fields map[string]float64, now time.Time) {
	for name, v := range fields {
		s.Set(name, v, now)
	}
}

func (s *SnapshotStore) Get(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

func (s *SnapshotStore) Len() int { return len(s.entries) }

func (s *SnapshotStore) Clear() { clear(s.entries) }

// Fields copies the current values out of the store.
func (s *SnapshotStore) Fields() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.Value
	}
	return out
}
