package extraction

// Matrix holds the values extracted in one run, indexed [row][service].
// It has one entry per dataset row at extraction time; rows that were not
// extracted hold an empty list for every service.
type Matrix [][][]string

// NewMatrix returns a matrix of rows x services empty lists.
func NewMatrix(rows, services int) Matrix {
	m := make(Matrix, rows)
	for r := range m {
		m[r] = emptyRow(services)
	}
	return m
}

func emptyRow(services int) [][]string {
	row := make([][]string, services)
	for s := range row {
		row[s] = []string{}
	}
	return row
}

// Rows returns the number of rows.
func (m Matrix) Rows() int { return len(m) }

// Width returns the number of table rows row r expands to: the longest
// value list among its services.
func (m Matrix) Width(r int) int {
	w := 0
	for _, values := range m[r] {
		if len(values) > w {
			w = len(values)
		}
	}
	return w
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for r, row := range m {
		out[r] = make([][]string, len(row))
		for s, values := range row {
			out[r][s] = append([]string{}, values...)
		}
	}
	return out
}
