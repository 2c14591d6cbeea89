package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrEmptyFile is returned by ReadCSV when the input has no header row.
var ErrEmptyFile = errors.New("empty file")

// ReadCSV builds a dataset from CSV input. The first non-blank record is the
// header; blank header cells become "Column N" and repeated names get a
// numeric suffix. Fully blank data rows are skipped. Records wider than the
// header grow the schema with generated column names.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(newCleanReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var d *Dataset
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if isBlankRecord(record) {
			continue
		}

		if d == nil {
			d, err = New(headerNames(record))
			if err != nil {
				return nil, fmt.Errorf("invalid csv header: %w", err)
			}
			continue
		}

		if len(record) > len(d.columns) {
			d.growSchema(len(record))
		}
		d.AppendRow(record)
	}

	if d == nil {
		return nil, ErrEmptyFile
	}
	return d, nil
}

// WriteCSV writes the header and every row's visible values.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range d.Records(0, 0) {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// growSchema appends generated columns until the schema has width columns.
func (d *Dataset) growSchema(width int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.columns) < width {
		name := uniqueName(d, "Column "+strconv.Itoa(len(d.columns)+1))
		d.maxCellIndex++
		d.columns = append(d.columns, Column{Name: name, CellIndex: d.maxCellIndex})
	}
	d.reindex()
}

func headerNames(record []string) []string {
	names := make([]string, len(record))
	used := make(map[string]bool, len(record))
	for i, raw := range record {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = "Column " + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; used[candidate]; n++ {
			candidate = name + " " + strconv.Itoa(n)
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}

func uniqueName(d *Dataset, name string) string {
	candidate := name
	for n := 2; d.columnPos(candidate) >= 0; n++ {
		candidate = name + " " + strconv.Itoa(n)
	}
	return candidate
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
