// Package journal keeps an append-only record of every command the control
// loop handed to a task channel. The journal is write-only for the control
// loop; it is read back by operators through the CLI and the HTTP API.
package journal

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Record captures one command and its delivery outcome.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Payload   string    `json:"payload"`
	UnitID    int       `json:"unit_id,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	LatencyMS float64   `json:"latency_ms"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	Channel string
	UnitID  int
	// FailedOnly keeps records whose delivery failed.
	FailedOnly bool
	// Limit keeps the most recent records when positive.
	Limit int
}

// Match reports whether r passes the filters of q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Channel != "" && r.Channel != q.Channel {
		return false
	}
	if q.UnitID != 0 && r.UnitID != q.UnitID {
		return false
	}
	if q.FailedOnly && r.Success {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures the journal backend. An empty backend
// disables the journal.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults for the selected backend.
func (c *Config) SetDefaults() {
	switch c.Backend {
	case "jsonl":
		if c.Path == "" {
			c.Path = "journal/commands.jsonl"
		}
		if c.MaxSizeMB <= 0 {
			c.MaxSizeMB = 10
		}
		if c.MaxBackups <= 0 {
			c.MaxBackups = 5
		}
		if c.MaxAgeDays <= 0 {
			c.MaxAgeDays = 7
		}
	case "sqlite":
		if c.Path == "" {
			c.Path = "journal/commands.db"
		}
	}
}

// Validate checks the values after defaults were applied.
func (c Config) Validate() error {
	switch c.Backend {
	case "", "none", "jsonl", "sqlite":
		return nil
	}
	return fmt.Errorf("journal: unknown backend %q", c.Backend)
}

// Open returns the configured Store.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	}
	return NopStore{}, nil
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error         { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                  { return nil }

// finish orders records by time and applies the limit.
func finish(res []Record, limit int) []Record {
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res
}
