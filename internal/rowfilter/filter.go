// Package rowfilter selects the rows an extraction job runs against.
//
// Filters are evaluated once against the dataset's current content and the
// result is a snapshot: later edits to the table do not change which rows
// were selected.
package rowfilter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/colextract/internal/dataset"
)

// Operator is a comparison applied to one column's cell text.
type Operator string

const (
	OpContains   Operator = "contains"
	OpEquals     Operator = "eq"
	OpStartsWith Operator = "starts"
	OpEndsWith   Operator = "ends"
	OpGreaterEq  Operator = "gte"
	OpLessEq     Operator = "lte"
	OpGreater    Operator = "gt"
	OpLess       Operator = "lt"
	OpIn         Operator = "in"
	OpBlank      Operator = "blank"
	OpNotBlank   Operator = "notblank"
)

// ErrUnknownOperator is returned for an operator outside the list above.
var ErrUnknownOperator = errors.New("unknown filter operator")

// ColumnFilter is a single condition on a column.
type ColumnFilter struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"` // comma-separated for OpIn
}

// FilterSet holds every condition; a row matches when all of them match.
// An empty set matches every row.
type FilterSet struct {
	Filters []ColumnFilter `json:"filters,omitempty"`
}

// Rows is a resolved set of row positions.
type Rows map[int]struct{}

// Contains reports whether row is selected.
func (r Rows) Contains(row int) bool {
	_, ok := r[row]
	return ok
}

// Sorted returns the selected positions in ascending order.
func (r Rows) Sorted() []int {
	out := make([]int, 0, len(r))
	for row := range r {
		out = append(out, row)
	}
	sort.Ints(out)
	return out
}

// All selects every row of a table with n rows.
func All(n int) Rows {
	rows := make(Rows, n)
	for i := 0; i < n; i++ {
		rows[i] = struct{}{}
	}
	return rows
}

// Parse reads a filter written as "column:operator:value". The value part
// may be omitted for blank and notblank, and may itself contain colons.
func Parse(s string) (ColumnFilter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return ColumnFilter{}, fmt.Errorf("invalid filter %q, want column:operator:value", s)
	}
	f := ColumnFilter{Column: parts[0], Operator: Operator(parts[1])}
	if len(parts) == 3 {
		f.Value = parts[2]
	}
	if err := f.Validate(); err != nil {
		return ColumnFilter{}, err
	}
	return f, nil
}

// Resolve evaluates fs against every row of ds.
func Resolve(ds *dataset.Dataset, fs FilterSet) (Rows, error) {
	type bound struct {
		filter    ColumnFilter
		cellIndex int
		number    float64
		set       map[string]bool
	}

	conds := make([]bound, 0, len(fs.Filters))
	for _, f := range fs.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		col, _, err := ds.ColumnByName(f.Column)
		if err != nil {
			return nil, err
		}
		b := bound{filter: f, cellIndex: col.CellIndex}
		switch f.Operator {
		case OpGreaterEq, OpLessEq, OpGreater, OpLess:
			b.number, err = strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q for %s filter on %q", f.Value, f.Operator, f.Column)
			}
		case OpIn:
			b.set = make(map[string]bool)
			for _, v := range strings.Split(f.Value, ",") {
				b.set[strings.ToLower(strings.TrimSpace(v))] = true
			}
		}
		conds = append(conds, b)
	}

	n := ds.RowCount()
	rows := make(Rows)
	for row := 0; row < n; row++ {
		match := true
		for _, c := range conds {
			if !c.filter.matches(ds.Cell(row, c.cellIndex), c.number, c.set) {
				match = false
				break
			}
		}
		if match {
			rows[row] = struct{}{}
		}
	}
	return rows, nil
}

// Validate checks the operator. Column and operand are checked by Resolve.
func (f ColumnFilter) Validate() error {
	switch f.Operator {
	case OpContains, OpEquals, OpStartsWith, OpEndsWith,
		OpGreaterEq, OpLessEq, OpGreater, OpLess, OpIn,
		OpBlank, OpNotBlank:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperator, f.Operator)
}

// matches compares case-insensitively, mirroring ILIKE semantics for text.
func (f ColumnFilter) matches(cell string, number float64, set map[string]bool) bool {
	text := strings.ToLower(strings.TrimSpace(cell))
	want := strings.ToLower(f.Value)

	switch f.Operator {
	case OpContains:
		return strings.Contains(text, want)
	case OpEquals:
		return text == strings.TrimSpace(want)
	case OpStartsWith:
		return strings.HasPrefix(text, want)
	case OpEndsWith:
		return strings.HasSuffix(text, want)
	case OpIn:
		return set[text]
	case OpBlank:
		return text == ""
	case OpNotBlank:
		return text != ""
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return false
	}
	switch f.Operator {
	case OpGreaterEq:
		return v >= number
	case OpLessEq:
		return v <= number
	case OpGreater:
		return v > number
	case OpLess:
		return v < number
	}
	return false
}
