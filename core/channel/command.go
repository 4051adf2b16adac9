package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DisplayCommand is the payload of the display channel.
type DisplayCommand string

const (
	// Repaint asks the display to redraw the map.
	Repaint DisplayCommand = "repaint"
	// Terminal tells the display the run is over.
	Terminal DisplayCommand = "#"
)

// UnitID identifies a fleet unit. On the wire it is the string "00<n>".
type UnitID int

func (u UnitID) String() string { return "00" + strconv.Itoa(int(u)) }

// MarshalJSON encodes the unit id as "00<n>".
func (u UnitID) MarshalJSON() ([]byte, error) { return json.Marshal(u.String()) }

// UnmarshalJSON accepts "00<n>" as well as a bare number.
func (u *UnitID) UnmarshalJSON(b []byte) error {
	n, err := decodeID(b, "")
	if err != nil {
		return fmt.Errorf("unit id: %w", err)
	}
	*u = UnitID(n)
	return nil
}

// NaviTarget names the unit the navigator should plan for. On the wire it is
// the string "Car00<n>".
type NaviTarget int

func (n NaviTarget) String() string { return "Car00" + strconv.Itoa(int(n)) }

// MarshalJSON encodes the target as "Car00<n>".
func (n NaviTarget) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

// UnmarshalJSON decodes "Car00<n>".
func (n *NaviTarget) UnmarshalJSON(b []byte) error {
	v, err := decodeID(b, "Car")
	if err != nil {
		return fmt.Errorf("navigation target: %w", err)
	}
	*n = NaviTarget(v)
	return nil
}

func decodeID(b []byte, prefix string) (int, error) {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if nerr := json.Unmarshal(b, &n); nerr != nil {
			return 0, err
		}
		s = strconv.Itoa(n)
	}
	if prefix != "" {
		if !strings.HasPrefix(s, prefix) {
			return 0, fmt.Errorf("missing %q prefix in %q", prefix, s)
		}
		s = strings.TrimPrefix(s, prefix)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid id %d", n)
	}
	return n, nil
}

func (d DisplayCommand) String() string { return string(d) }
