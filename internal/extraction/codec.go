package extraction

import (
	"encoding/json"
	"fmt"
)

// element is one extracted value as stored in the journal.
type element struct {
	ExtractedText string `json:"extractedText"`
}

// record is the journal form of a Change. column, services, columns,
// elements and addedRows match the format written by earlier releases;
// rows and applied were added later and are optional on read.
type record struct {
	Column    *int          `json:"column"`
	Services  []string      `json:"services"`
	Columns   []string      `json:"columns"`
	Rows      *int          `json:"rows,omitempty"`
	Elements  [][][]element `json:"elements"`
	AddedRows []int         `json:"addedRows"`
	Applied   *bool         `json:"applied,omitempty"`
}

// MarshalJSON encodes the change, including its applied state.
func (c *Change) MarshalJSON() ([]byte, error) {
	elements := make([][][]element, len(c.matrix))
	for r, row := range c.matrix {
		elements[r] = make([][]element, len(row))
		for s, values := range row {
			elements[r][s] = make([]element, len(values))
			for k, v := range values {
				elements[r][s][k] = element{ExtractedText: v}
			}
		}
	}

	column := c.column
	rows := len(c.matrix)
	applied := c.applied
	added := c.addedRows
	if added == nil {
		added = []int{}
	}
	return json.Marshal(record{
		Column:    &column,
		Services:  c.services,
		Columns:   c.columns,
		Rows:      &rows,
		Elements:  elements,
		AddedRows: added,
		Applied:   &applied,
	})
}

// DecodeChange rebuilds a change from its journal form. A record without an
// applied field is treated as applied. Any inconsistency is reported as
// ErrMalformedChange; nothing is guessed.
func DecodeChange(data []byte) (*Change, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}

	switch {
	case rec.Column == nil:
		return nil, fmt.Errorf("%w: missing column", ErrMalformedChange)
	case rec.Services == nil:
		return nil, fmt.Errorf("%w: missing services", ErrMalformedChange)
	case rec.Columns == nil:
		return nil, fmt.Errorf("%w: missing columns", ErrMalformedChange)
	case rec.Elements == nil:
		return nil, fmt.Errorf("%w: missing elements", ErrMalformedChange)
	}
	if *rec.Column < 0 {
		return nil, fmt.Errorf("%w: negative column %d", ErrMalformedChange, *rec.Column)
	}
	if len(rec.Services) == 0 {
		return nil, fmt.Errorf("%w: no services", ErrMalformedChange)
	}
	if len(rec.Columns) != len(rec.Services) {
		return nil, fmt.Errorf("%w: %d columns for %d services", ErrMalformedChange, len(rec.Columns), len(rec.Services))
	}
	if rec.Rows != nil && *rec.Rows != len(rec.Elements) {
		return nil, fmt.Errorf("%w: declares %d rows but has %d", ErrMalformedChange, *rec.Rows, len(rec.Elements))
	}

	applied := rec.Applied == nil || *rec.Applied
	if applied && rec.AddedRows == nil {
		return nil, fmt.Errorf("%w: missing addedRows", ErrMalformedChange)
	}
	if !applied && len(rec.AddedRows) > 0 {
		return nil, fmt.Errorf("%w: addedRows on a change that is not applied", ErrMalformedChange)
	}
	for i, r := range rec.AddedRows {
		if r < 0 || (i > 0 && r <= rec.AddedRows[i-1]) {
			return nil, fmt.Errorf("%w: addedRows must be ascending and non-negative", ErrMalformedChange)
		}
	}

	matrix := make(Matrix, len(rec.Elements))
	for r, row := range rec.Elements {
		if len(row) == 0 {
			// Rows that were never extracted were written as [].
			matrix[r] = emptyRow(len(rec.Services))
			continue
		}
		if len(row) != len(rec.Services) {
			return nil, fmt.Errorf("%w: row %d has %d service results, want %d", ErrMalformedChange, r, len(row), len(rec.Services))
		}
		matrix[r] = make([][]string, len(row))
		for s, elems := range row {
			values := make([]string, len(elems))
			for k, el := range elems {
				values[k] = el.ExtractedText
			}
			matrix[r][s] = values
		}
	}

	c, err := NewChange(*rec.Column, rec.Services, rec.Columns, matrix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	if applied {
		c.addedRows = append([]int{}, rec.AddedRows...)
		c.applied = true
	}
	return c, nil
}
