// Package completion decides whether the fleet has covered the whole map.
package completion

import (
	"context"

	"github.com/kilianp07/fleetctl/core/store"
)

// Coverage is the number of visited cells against the map size.
type Coverage struct {
	Covered int64
	Total   int64
}

// Complete reports whether every cell of a non-empty map is covered.
func (c Coverage) Complete() bool { return c.Total > 0 && c.Covered == c.Total }

// Detector compares the population of the map bitmap with width*height.
type Detector struct {
	store store.StateStore
}

// NewDetector returns a Detector reading from s.
func NewDetector(s store.StateStore) *Detector { return &Detector{store: s} }

// Evaluate reads the map dimensions and bitmap population. Dimensions are
// read on every call; when either is missing or malformed the coverage is
// reported with a zero total, which is never complete.
func (d *Detector) Evaluate(ctx context.Context) (Coverage, error) {
	width, okW, err := store.ReadCount(ctx, d.store, store.KeyMapWidth)
	if err != nil {
		return Coverage{}, err
	}
	height, okH, err := store.ReadCount(ctx, d.store, store.KeyMapHeight)
	if err != nil {
		return Coverage{}, err
	}
	covered, err := d.store.BitCount(ctx, store.KeyMap)
	if err != nil {
		return Coverage{}, err
	}
	if !okW || !okH {
		return Coverage{Covered: covered}, nil
	}
	return Coverage{Covered: covered, Total: width * height}, nil
}

// IsComplete is a shorthand for Evaluate followed by Complete.
func (d *Detector) IsComplete(ctx context.Context) (bool, error) {
	c, err := d.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	return c.Complete(), nil
}
