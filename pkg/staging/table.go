package staging

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by One when no row matches.
	ErrNotFound = errors.New("staging: row not found")

	// ErrMultiple is returned by One when more than one row matches.
	ErrMultiple = errors.New("staging: more than one row matches")

	// ErrDuplicate is returned by Insert when a unique key is taken.
	ErrDuplicate = errors.New("staging: duplicate key")
)

// Table is an ordered in-memory table with sequential IDs and an optional
// unique key.
type Table[T any] struct {
	name   string
	rows   []*T
	next   int64
	setID  func(*T, int64)
	getID  func(*T) int64
	unique func(*T) string
	keys   map[string]*T
}

// NewTable creates a table. unique may be nil.
func NewTable[T any](name string, getID func(*T) int64, setID func(*T, int64), unique func(*T) string) *Table[T] {
	return &Table[T]{
		name:   name,
		setID:  setID,
		getID:  getID,
		unique: unique,
		keys:   make(map[string]*T),
	}
}

// Insert assigns the next ID to row and appends it.
func (t *Table[T]) Insert(row *T) (int64, error) {
	if t.unique != nil {
		key := t.unique(row)
		if _, ok := t.keys[key]; ok {
			return 0, fmt.Errorf("%s %s: %w", t.name, key, ErrDuplicate)
		}
		t.keys[key] = row
	}
	t.next++
	t.setID(row, t.next)
	t.rows = append(t.rows, row)
	return t.next, nil
}

// Get returns the row with the given ID.
func (t *Table[T]) Get(id int64) (*T, error) {
	for _, row := range t.rows {
		if t.getID(row) == id {
			return row, nil
		}
	}
	return nil, fmt.Errorf("%s #%d: %w", t.name, id, ErrNotFound)
}

// All returns every row in insertion order.
func (t *Table[T]) All() []*T {
	out := make([]*T, len(t.rows))
	copy(out, t.rows)
	return out
}

// Filter returns the rows matching pred in insertion order.
func (t *Table[T]) Filter(pred func(*T) bool) []*T {
	var out []*T
	for _, row := range t.rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	return out
}

// One returns the single row matching pred.
func (t *Table[T]) One(pred func(*T) bool) (*T, error) {
	rows := t.Filter(pred)
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%s: %w", t.name, ErrNotFound)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%s: %w", t.name, ErrMultiple)
	}
}

// Exists reports whether any row matches pred.
func (t *Table[T]) Exists(pred func(*T) bool) bool {
	for _, row := range t.rows {
		if pred(row) {
			return true
		}
	}
	return false
}

// Count returns the number of rows matching pred, or all rows when pred is nil.
func (t *Table[T]) Count(pred func(*T) bool) int {
	if pred == nil {
		return len(t.rows)
	}
	return len(t.Filter(pred))
}

// Update applies fn to every row matching pred and returns how many changed.
// Unique keys are not re-indexed.
func (t *Table[T]) Update(pred func(*T) bool, fn func(*T)) int {
	n := 0
	for _, row := range t.rows {
		if pred(row) {
			fn(row)
			n++
		}
	}
	return n
}

// Clear drops every row and resets the ID sequence.
func (t *Table[T]) Clear() {
	t.rows = nil
	t.next = 0
	t.keys = make(map[string]*T)
}
