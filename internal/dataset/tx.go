package dataset

import "fmt"

// Tx exposes the structural primitives of a Dataset. It is only valid inside
// the callback passed to [Dataset.Update].
type Tx struct {
	d *Dataset
}

// RowCount returns the current number of rows.
func (tx *Tx) RowCount() int { return len(tx.d.rows) }

// ColumnCount returns the current number of columns.
func (tx *Tx) ColumnCount() int { return len(tx.d.columns) }

// Column returns the descriptor at a position.
func (tx *Tx) Column(pos int) (Column, error) {
	if pos < 0 || pos >= len(tx.d.columns) {
		return Column{}, fmt.Errorf("%w: %d", ErrColumnOutOfRange, pos)
	}
	return tx.d.columns[pos], nil
}

// HasColumn reports whether a column with the given name exists.
func (tx *Tx) HasColumn(name string) bool {
	return tx.d.columnPos(name) >= 0
}

// Cell returns the value in a row's cell slot.
func (tx *Tx) Cell(row, cellIndex int) string {
	return tx.d.cell(row, cellIndex)
}

// InsertColumn inserts an empty column at pos, shifting the columns at or
// after pos one position right. It returns the newly allocated cell slot.
func (tx *Tx) InsertColumn(name string, pos int) (int, error) {
	d := tx.d
	if pos < 0 || pos > len(d.columns) {
		return -1, fmt.Errorf("%w: %d", ErrColumnOutOfRange, pos)
	}
	if name == "" {
		return -1, fmt.Errorf("empty column name")
	}
	if d.columnPos(name) >= 0 {
		return -1, fmt.Errorf("%w: %q", ErrColumnExists, name)
	}

	d.maxCellIndex++
	col := Column{Name: name, CellIndex: d.maxCellIndex}
	d.columns = append(d.columns, Column{})
	copy(d.columns[pos+1:], d.columns[pos:])
	d.columns[pos] = col
	d.dirty = true
	return col.CellIndex, nil
}

// RemoveColumn removes the column at pos and returns its descriptor. Cells in
// the column's slot are left in place.
func (tx *Tx) RemoveColumn(pos int) (Column, error) {
	d := tx.d
	if pos < 0 || pos >= len(d.columns) {
		return Column{}, fmt.Errorf("%w: %d", ErrColumnOutOfRange, pos)
	}
	col := d.columns[pos]
	d.columns = append(d.columns[:pos], d.columns[pos+1:]...)
	d.dirty = true
	return col, nil
}

// PadRows grows every row to at least width cells.
func (tx *Tx) PadRows(width int) {
	for i, cells := range tx.d.rows {
		if len(cells) < width {
			grown := make([]string, width)
			copy(grown, cells)
			tx.d.rows[i] = grown
		}
	}
}

// InsertRow inserts a blank row at pos, shifting later rows down.
// pos may equal RowCount to append.
func (tx *Tx) InsertRow(pos int) error {
	d := tx.d
	if pos < 0 || pos > len(d.rows) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, pos)
	}
	row := make([]string, d.maxCellIndex+1)
	d.rows = append(d.rows, nil)
	copy(d.rows[pos+1:], d.rows[pos:])
	d.rows[pos] = row
	return nil
}

// RemoveRow removes the row at pos, shifting later rows up.
func (tx *Tx) RemoveRow(pos int) error {
	d := tx.d
	if pos < 0 || pos >= len(d.rows) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, pos)
	}
	copy(d.rows[pos:], d.rows[pos+1:])
	d.rows[len(d.rows)-1] = nil
	d.rows = d.rows[:len(d.rows)-1]
	return nil
}

// SetCell stores a value in a row's cell slot, growing the row if needed.
func (tx *Tx) SetCell(row, cellIndex int, value string) error {
	d := tx.d
	if row < 0 || row >= len(d.rows) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	if cellIndex < 0 {
		return fmt.Errorf("invalid cell index %d", cellIndex)
	}
	if cellIndex >= len(d.rows[row]) {
		grown := make([]string, cellIndex+1)
		copy(grown, d.rows[row])
		d.rows[row] = grown
	}
	d.rows[row][cellIndex] = value
	return nil
}

// Reindex recomputes derived lookups after structural changes.
func (tx *Tx) Reindex() {
	tx.d.reindex()
}
