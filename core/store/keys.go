package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Keys written by the external fleet components.
const (
	KeyCarOpen    = "IsCarOpen"
	KeyNaviOpen   = "IsNaviOpen"
	KeyViewOpen   = "IsViewOpen"
	KeyNaviFinish = "IsNaviFinish"
	KeyStopMark   = "StopMark"
	KeyUnitCount  = "CarNumber"
	KeyMapWidth   = "mapWidth"
	KeyMapHeight  = "mapLength"
	KeyMap        = "map"
)

// UnitTaskListKey returns the key of the pending task list of unit n.
func UnitTaskListKey(n int) string { return fmt.Sprintf("Car00%dTaskList", n) }

// UnitTaskListKeys returns the task list keys of units 1..count.
func UnitTaskListKeys(count int) []string {
	keys := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		keys = append(keys, UnitTaskListKey(i))
	}
	return keys
}

// ParseCount converts a stored counter to an int. Missing, empty, negative or
// malformed values yield ok=false.
func ParseCount(raw string, found bool) (n int64, ok bool) {
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ReadCount reads key and parses it with ParseCount. Only store failures are
// returned as errors; a missing or malformed value is reported as zero.
func ReadCount(ctx context.Context, s StateStore, key string) (int64, bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	n, ok := ParseCount(raw, found)
	return n, ok, nil
}
