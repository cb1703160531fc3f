// Package realtime carries row change notifications from the store to
// subscribed sessions, in process through a Hub and across processes
// through Redis pub/sub.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeType is the kind of row change.
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"

	// Resync tells a subscriber that changes may have been lost and any
	// derived state must be rebuilt from the store.
	Resync ChangeType = "RESYNC"
)

// Change is one row-level event. Keys holds the column values subscribers
// filter on, e.g. conversation_id.
type Change struct {
	Table  string            `json:"table"`
	Type   ChangeType        `json:"type"`
	Record json.RawMessage   `json:"record,omitempty"`
	Old    json.RawMessage   `json:"old,omitempty"`
	Keys   map[string]string `json:"keys,omitempty"`
	At     time.Time         `json:"at"`
}

// NewChange builds a Change with record marshaled to JSON.
func NewChange(table string, typ ChangeType, record any, keys map[string]string) (Change, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("realtime: marshal %s record: %w", table, err)
	}
	return Change{Table: table, Type: typ, Record: data, Keys: keys, At: time.Now().UTC()}, nil
}

// Decode unmarshals the change record into v.
func (c Change) Decode(v any) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("realtime: %s %s change has no record", c.Table, c.Type)
	}
	if err := json.Unmarshal(c.Record, v); err != nil {
		return fmt.Errorf("realtime: decode %s record: %w", c.Table, err)
	}
	return nil
}

// Filter selects changes for a subscription. Empty fields match anything.
// Column/Value is an equality predicate over Change.Keys.
type Filter struct {
	Table  string
	Type   ChangeType
	Column string
	Value  string
}

// ParseFilter parses the "column=eq.value" predicate form used by
// clients, e.g. "conversation_id=eq.42".
func ParseFilter(table, expr string) (Filter, error) {
	f := Filter{Table: table}
	if expr == "" {
		return f, nil
	}
	col, rest, ok := strings.Cut(expr, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("realtime: bad filter %q", expr)
	}
	val, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("realtime: unsupported operator in filter %q", expr)
	}
	f.Column, f.Value = col, val
	return f, nil
}

// Match reports whether c passes the filter. Resync always passes so
// every subscriber learns about lost changes.
func (f Filter) Match(c Change) bool {
	if c.Type == Resync {
		return true
	}
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Type != "" && f.Type != c.Type {
		return false
	}
	if f.Column != "" && c.Keys[f.Column] != f.Value {
		return false
	}
	return true
}

func (f Filter) String() string {
	s := f.Table
	if s == "" {
		s = "*"
	}
	if f.Type != "" {
		s += ":" + string(f.Type)
	}
	if f.Column != "" {
		s += "?" + f.Column + "=eq." + f.Value
	}
	return s
}
