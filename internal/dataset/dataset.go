// Package dataset provides the in-memory table that extraction jobs read from
// and structural changes mutate.
//
// A Dataset is an ordered sequence of rows. Each row is a slice of cells, and
// each column descriptor points at one cell slot (CellIndex) inside every row.
// A column's position is its index in the schema; its cell slot never changes
// once allocated. Slots are handed out monotonically and are never reused, so
// removing a column leaves its cells orphaned but harmless.
//
// Reads take a shared lock per call. Structural mutations happen inside
// [Dataset.Update], which holds the exclusive lock for the whole callback so
// that a multi-step change is observed atomically by other readers.
package dataset

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrColumnExists is returned when inserting a column whose name is taken.
	ErrColumnExists = errors.New("column already exists")

	// ErrColumnNotFound is returned when a column name does not resolve.
	ErrColumnNotFound = errors.New("column not found")

	// ErrColumnOutOfRange is returned for a column position outside the schema.
	ErrColumnOutOfRange = errors.New("column position out of range")

	// ErrRowOutOfRange is returned for a row position outside the table.
	ErrRowOutOfRange = errors.New("row position out of range")
)

// Column describes one column of the schema.
type Column struct {
	Name      string `json:"name"`
	CellIndex int    `json:"cellIndex"`
}

// Dataset is a mutable table guarded by a RWMutex.
type Dataset struct {
	mu sync.RWMutex

	columns      []Column
	rows         [][]string
	maxCellIndex int
	byName       map[string]int
	dirty        bool
}

// New creates an empty dataset with one column per header name.
// Names must be non-empty and unique.
func New(header []string) (*Dataset, error) {
	d := &Dataset{maxCellIndex: -1}
	for _, name := range header {
		if name == "" {
			return nil, fmt.Errorf("empty column name")
		}
		if d.columnPos(name) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrColumnExists, name)
		}
		d.maxCellIndex++
		d.columns = append(d.columns, Column{Name: name, CellIndex: d.maxCellIndex})
	}
	d.reindex()
	return d, nil
}

// AppendRow adds a row at the end of the table. Values are matched to columns
// by position; missing values are empty.
func (d *Dataset) AppendRow(values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row := make([]string, d.maxCellIndex+1)
	for pos, col := range d.columns {
		if pos < len(values) {
			row[col.CellIndex] = values[pos]
		}
	}
	d.rows = append(d.rows, row)
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}

// ColumnCount returns the number of columns in the schema.
func (d *Dataset) ColumnCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.columns)
}

// Columns returns a copy of the schema in position order.
func (d *Dataset) Columns() []Column {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Header returns the column names in position order.
func (d *Dataset) Header() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnByName resolves a column name to its descriptor and position.
func (d *Dataset) ColumnByName(name string) (Column, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pos, ok := d.byName[name]
	if !ok {
		return Column{}, -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return d.columns[pos], pos, nil
}

// Cell returns the value stored in a row's cell slot, or "" when the row is
// shorter than the slot or the row does not exist.
func (d *Dataset) Cell(row, cellIndex int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cell(row, cellIndex)
}

// Value returns the value at a row and column position.
func (d *Dataset) Value(row, pos int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if pos < 0 || pos >= len(d.columns) {
		return ""
	}
	return d.cell(row, d.columns[pos].CellIndex)
}

// Records returns the visible values of rows [offset, offset+limit) in
// column position order. A limit <= 0 returns every row from offset.
func (d *Dataset) Records(offset, limit int) [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset > len(d.rows) {
		offset = len(d.rows)
	}
	end := len(d.rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([][]string, 0, end-offset)
	for r := offset; r < end; r++ {
		vals := make([]string, len(d.columns))
		for pos, col := range d.columns {
			vals[pos] = d.cell(r, col.CellIndex)
		}
		out = append(out, vals)
	}
	return out
}

// Update runs fn with the exclusive lock held. Any schema change made by fn
// is reindexed before the lock is released, even if fn fails.
func (d *Dataset) Update(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &Tx{d: d}
	err := fn(tx)
	tx.d = nil
	if d.dirty {
		d.reindex()
	}
	return err
}

func (d *Dataset) cell(row, cellIndex int) string {
	if row < 0 || row >= len(d.rows) || cellIndex < 0 {
		return ""
	}
	cells := d.rows[row]
	if cellIndex >= len(cells) {
		return ""
	}
	return cells[cellIndex]
}

func (d *Dataset) columnPos(name string) int {
	for i, c := range d.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (d *Dataset) reindex() {
	d.byName = make(map[string]int, len(d.columns))
	for i, c := range d.columns {
		d.byName[c.Name] = i
	}
	d.dirty = false
}
