package extraction

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/colextract/internal/dataset"
)

// Kind identifies column extraction changes in the project journal.
const Kind = "column-extraction"

var (
	// ErrNotApplied is returned when reverting a change that is not applied.
	ErrNotApplied = errors.New("change is not applied")

	// ErrAlreadyApplied is returned when applying a change twice.
	ErrAlreadyApplied = errors.New("change is already applied")

	// ErrIntegrity is returned when the dataset no longer matches what the
	// change recorded, usually because it was edited out of band.
	ErrIntegrity = errors.New("dataset does not match recorded change")

	// ErrMalformedChange is returned when a serialized change cannot be used.
	ErrMalformedChange = errors.New("malformed extraction change")
)

// Change is the reversible table edit that materializes a Matrix: one new
// column per service inserted at Column, and one extra row for every value
// beyond the first that a service returned for a row.
//
// A Change is Idle until applied and returns to Idle when reverted; the
// matrix never changes, so applying again repeats the same edit. A Change is
// not safe for concurrent use. Callers serialize access through the dataset
// lock, which Apply and Revert take.
type Change struct {
	column   int
	services []string
	columns  []string
	matrix   Matrix

	addedRows []int
	applied   bool
}

// NewChange creates an Idle change inserting one column per service at
// position column. columns holds the destination name for each service.
func NewChange(column int, services, columns []string, matrix Matrix) (*Change, error) {
	if column < 0 {
		return nil, fmt.Errorf("invalid column position %d", column)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no services")
	}
	if len(columns) != len(services) {
		return nil, fmt.Errorf("%d column names for %d services", len(columns), len(services))
	}
	for r, row := range matrix {
		if len(row) != len(services) {
			return nil, fmt.Errorf("matrix row %d has %d service results, want %d", r, len(row), len(services))
		}
	}
	return &Change{
		column:   column,
		services: append([]string(nil), services...),
		columns:  append([]string(nil), columns...),
		matrix:   matrix,
	}, nil
}

func (c *Change) Kind() string { return Kind }

// Column returns the position the first new column is inserted at.
func (c *Change) Column() int { return c.column }

// Services returns the service names in column order.
func (c *Change) Services() []string { return append([]string(nil), c.services...) }

// Columns returns the destination column names in order.
func (c *Change) Columns() []string { return append([]string(nil), c.columns...) }

// Matrix returns the extracted values.
func (c *Change) Matrix() Matrix { return c.matrix }

// AddedRows returns the positions of rows inserted by the last apply, in
// ascending order. It is empty when the change is Idle.
func (c *Change) AddedRows() []int { return append([]int(nil), c.addedRows...) }

// Applied reports whether the change is currently applied.
func (c *Change) Applied() bool { return c.applied }

// Detached returns an Idle copy sharing the matrix, for applying the same
// edit to a dataset that does not contain it yet.
func (c *Change) Detached() *Change {
	return &Change{
		column:   c.column,
		services: c.services,
		columns:  c.columns,
		matrix:   c.matrix,
	}
}

// Apply applies the change under the dataset's exclusive lock.
func (c *Change) Apply(ds *dataset.Dataset) error {
	return ds.Update(c.ApplyTx)
}

// Revert reverts the change under the dataset's exclusive lock.
func (c *Change) Revert(ds *dataset.Dataset) error {
	return ds.Update(c.RevertTx)
}

// ApplyTx inserts the columns, expands rows and places the values. Every
// precondition is checked before the first mutation, so a failed apply
// leaves the dataset untouched.
func (c *Change) ApplyTx(tx *dataset.Tx) error {
	if c.applied {
		return ErrAlreadyApplied
	}
	if len(c.matrix) != tx.RowCount() {
		return fmt.Errorf("%w: change has %d rows, dataset has %d", ErrIntegrity, len(c.matrix), tx.RowCount())
	}
	if c.column > tx.ColumnCount() {
		return fmt.Errorf("%w: column position %d, dataset has %d columns", ErrIntegrity, c.column, tx.ColumnCount())
	}
	seen := make(map[string]bool, len(c.columns))
	for _, name := range c.columns {
		if name == "" {
			return fmt.Errorf("%w: empty column name", ErrMalformedChange)
		}
		if seen[name] || tx.HasColumn(name) {
			return fmt.Errorf("%w: %q", dataset.ErrColumnExists, name)
		}
		seen[name] = true
	}

	slots := make([]int, len(c.columns))
	maxSlot := 0
	for i, name := range c.columns {
		slot, err := tx.InsertColumn(name, c.column+i)
		if err != nil {
			return fmt.Errorf("insert column %q: %w", name, err)
		}
		slots[i] = slot
		maxSlot = max(maxSlot, slot)
	}
	tx.PadRows(maxSlot + 1)

	added := []int{}
	next := 0
	for r, row := range c.matrix {
		width := c.matrix.Width(r)
		if width == 0 {
			next++
			continue
		}
		for k := 1; k < width; k++ {
			if err := tx.InsertRow(next + k); err != nil {
				return fmt.Errorf("insert row: %w", err)
			}
			added = append(added, next+k)
		}
		for s, values := range row {
			for k, v := range values {
				if err := tx.SetCell(next+k, slots[s], v); err != nil {
					return fmt.Errorf("set cell: %w", err)
				}
			}
		}
		next += width
	}
	tx.Reindex()

	c.addedRows = added
	c.applied = true
	return nil
}

// RevertTx removes the inserted rows, last first, and then the inserted
// columns. It refuses to touch a dataset whose shape no longer matches the
// recorded edit.
func (c *Change) RevertTx(tx *dataset.Tx) error {
	if !c.applied {
		return ErrNotApplied
	}

	n := tx.RowCount()
	for i, r := range c.addedRows {
		if r < 0 || r >= n {
			return fmt.Errorf("%w: added row %d outside %d rows", ErrIntegrity, r, n)
		}
		if i > 0 && r <= c.addedRows[i-1] {
			return fmt.Errorf("%w: added rows not ascending at %d", ErrIntegrity, r)
		}
	}
	if n-len(c.addedRows) != len(c.matrix) {
		return fmt.Errorf("%w: dataset has %d rows, expected %d", ErrIntegrity, n, len(c.matrix)+len(c.addedRows))
	}
	for i, name := range c.columns {
		col, err := tx.Column(c.column + i)
		if err != nil {
			return fmt.Errorf("%w: column %q missing: %v", ErrIntegrity, name, err)
		}
		if col.Name != name {
			return fmt.Errorf("%w: found column %q where %q was inserted", ErrIntegrity, col.Name, name)
		}
	}

	for i := len(c.addedRows) - 1; i >= 0; i-- {
		if err := tx.RemoveRow(c.addedRows[i]); err != nil {
			return fmt.Errorf("remove row: %w", err)
		}
	}
	for range c.columns {
		if _, err := tx.RemoveColumn(c.column); err != nil {
			return fmt.Errorf("remove column: %w", err)
		}
	}
	tx.Reindex()

	c.addedRows = nil
	c.applied = false
	return nil
}
