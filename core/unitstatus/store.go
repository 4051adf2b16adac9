// Package unitstatus keeps the last command observed for every unit.
package unitstatus

import (
	"sort"
	"sync"
	"time"
)

// LastCommand summarizes a command sent to a unit.
type LastCommand struct {
	Channel   string    `json:"channel"`
	Payload   string    `json:"payload"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status captures what the control loop last did for a unit.
type Status struct {
	UnitID         int         `json:"unit_id"`
	CurrentStatus  string      `json:"current_status"`
	Commands       int         `json:"commands"`
	Failures       int         `json:"failures"`
	LastCommand    LastCommand `json:"last_command"`
	LastNavigation time.Time   `json:"last_navigation,omitempty"`
	LastDispatch   time.Time   `json:"last_dispatch,omitempty"`
}

// Unit states derived from the last command.
const (
	StatusDispatched = "dispatched"
	StatusNavigating = "navigating"
	StatusFailed     = "send_failed"
)

// Filter selects units when listing. Zero values match everything.
type Filter struct {
	Channel    string
	FailedOnly bool
}

type Store interface {
	Record(unitID int, cmd LastCommand)
	Get(unitID int) (Status, bool)
	List(Filter) []Status
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[int]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[int]Status{}}
}

// Record folds a command into the unit status. Commands without a unit are
// ignored.
func (s *MemoryStore) Record(unitID int, cmd LastCommand) {
	if unitID <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[unitID]
	st.UnitID = unitID
	st.Commands++
	st.LastCommand = cmd
	switch {
	case !cmd.Success:
		st.Failures++
		st.CurrentStatus = StatusFailed
	case cmd.Channel == "navigation":
		st.CurrentStatus = StatusNavigating
		st.LastNavigation = cmd.Timestamp
	default:
		st.CurrentStatus = StatusDispatched
		st.LastDispatch = cmd.Timestamp
	}
	s.data[unitID] = st
}

func (s *MemoryStore) Get(unitID int) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[unitID]
	return st, ok
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.Channel != "" && st.LastCommand.Channel != f.Channel {
			continue
		}
		if f.FailedOnly && st.CurrentStatus != StatusFailed {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UnitID < res[j].UnitID })
	return res
}
