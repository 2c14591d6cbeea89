package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
)

// extractFunc adapts a function to Extractor.
type extractFunc func(ctx context.Context, text string) ([]string, error)

func (f extractFunc) Extract(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

func constant(values ...string) extractFunc {
	return func(context.Context, string) ([]string, error) { return values, nil }
}

// counting wraps an extractor and counts calls.
type counting struct {
	calls atomic.Int32
	inner Extractor
}

func (c *counting) Extract(ctx context.Context, text string) ([]string, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, text)
}

func newDataset(t *testing.T, header []string, rows ...[]string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(header)
	require.NoError(t, err)
	for _, r := range rows {
		ds.AppendRow(r)
	}
	return ds
}

func sourceColumn(t *testing.T, ds *dataset.Dataset, name string) dataset.Column {
	t.Helper()
	col, _, err := ds.ColumnByName(name)
	require.NoError(t, err)
	return col
}

func rowSet(rows ...int) rowfilter.Rows {
	set := rowfilter.Rows{}
	for _, r := range rows {
		set[r] = struct{}{}
	}
	return set
}

func TestEngine_EmptyFilterMakesNoCalls(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"})
	svc := &counting{inner: constant("x")}
	var progress []int

	var e Engine
	m, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "s", Service: svc}}, rowfilter.Rows{}, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, NewMatrix(2, 1), m)
	assert.Zero(t, svc.calls.Load())
	assert.Empty(t, progress)
}

func TestEngine_ProgressAndBlankRows(t *testing.T) {
	ds := newDataset(t, []string{"Text"},
		[]string{"one"}, []string{"two"}, []string{"   "}, []string{"four"}, []string{"five"})
	svc := &counting{inner: extractFunc(func(_ context.Context, text string) ([]string, error) {
		return []string{text}, nil
	})}
	var progress []int

	var e Engine
	m, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "s", Service: svc}}, rowSet(0, 1, 2, 3), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{25, 50, 75, 100}, progress)
	assert.Equal(t, int32(3), svc.calls.Load())
	assert.Equal(t, [][]string{{"one"}}, m[0])
	assert.Equal(t, [][]string{{}}, m[2])
	assert.Equal(t, [][]string{{}}, m[4], "unfiltered row stays empty")
}

func TestEngine_ProgressRounds(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"}, []string{"c"})
	var progress []int

	var e Engine
	_, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "s", Service: constant()}}, rowfilter.All(3), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{33, 67, 100}, progress)
}

func TestEngine_TrimsText(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"  padded \t"})
	var got string

	var e Engine
	_, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "s", Service: extractFunc(func(_ context.Context, text string) ([]string, error) {
			got = text
			return nil, nil
		})}}, rowfilter.All(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "padded", got)
}

func TestEngine_ResultsKeepServiceOrder(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"})
	slow := extractFunc(func(_ context.Context, text string) ([]string, error) {
		time.Sleep(20 * time.Millisecond)
		return []string{"slow-" + text}, nil
	})
	fast := extractFunc(func(_ context.Context, text string) ([]string, error) {
		return []string{"fast-" + text, "fast2-" + text}, nil
	})

	var e Engine
	m, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "slow", Service: slow}, {Name: "fast", Service: fast}}, rowfilter.All(2), nil)
	require.NoError(t, err)
	assert.Equal(t, Matrix{
		{{"slow-a"}, {"fast-a", "fast2-a"}},
		{{"slow-b"}, {"fast-b", "fast2-b"}},
	}, m)
}

func TestEngine_ServiceFailuresBecomeEmpty(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"})
	failing := extractFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("boom")
	})
	panicking := extractFunc(func(context.Context, string) ([]string, error) {
		panic("kaboom")
	})

	var mu sync.Mutex
	var reported []ServiceError
	e := Engine{OnServiceError: func(se ServiceError) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, se)
	}}

	m, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"), []Binding{
		{Name: "failing", Service: failing},
		{Name: "ok", Service: constant("v")},
		{Name: "panicking", Service: panicking},
	}, rowfilter.All(1), nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{}, {"v"}, {}}, m[0])
	require.Len(t, reported, 2)
	services := []string{reported[0].Service, reported[1].Service}
	assert.ElementsMatch(t, []string{"failing", "panicking"}, services)
}

func TestEngine_ServiceTimeout(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"})
	hanging := extractFunc(func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var reported atomic.Int32
	e := Engine{
		ServiceTimeout: 10 * time.Millisecond,
		OnServiceError: func(se ServiceError) {
			assert.ErrorIs(t, se, context.DeadlineExceeded)
			reported.Add(1)
		},
	}
	m, err := e.Extract(context.Background(), ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "hanging", Service: hanging}}, rowfilter.All(1), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}}, m[0])
	assert.Equal(t, int32(1), reported.Load())
}

func TestEngine_CancelStopsAtRowBoundary(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"}, []string{"c"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &counting{inner: extractFunc(func(_ context.Context, text string) ([]string, error) {
		if text == "b" {
			cancel()
		}
		return []string{text}, nil
	})}

	var e Engine
	m, err := e.Extract(ctx, ds, sourceColumn(t, ds, "Text"),
		[]Binding{{Name: "s", Service: svc}}, rowfilter.All(3), nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, m)
	assert.Equal(t, int32(2), svc.calls.Load())
}

func TestChange_SplitsRowsForMultipleValues(t *testing.T) {
	ds := newDataset(t, []string{"ID", "Text"}, []string{"1", "one"}, []string{"2", "two"})
	before := ds.Records(0, 0)

	c, err := NewChange(2, []string{"s1", "s2"}, []string{"A", "B"}, Matrix{
		{{"a", "b"}, {"x"}},
		{{"c"}, {}},
	})
	require.NoError(t, err)
	require.NoError(t, c.Apply(ds))

	assert.Equal(t, []string{"ID", "Text", "A", "B"}, ds.Header())
	assert.Equal(t, [][]string{
		{"1", "one", "a", "x"},
		{"", "", "b", ""},
		{"2", "two", "c", ""},
	}, ds.Records(0, 0))
	assert.Equal(t, []int{1}, c.AddedRows())
	assert.True(t, c.Applied())

	require.NoError(t, c.Revert(ds))
	assert.Equal(t, []string{"ID", "Text"}, ds.Header())
	assert.Equal(t, before, ds.Records(0, 0))
	assert.Empty(t, c.AddedRows())
	assert.False(t, c.Applied())
}

func TestChange_EmptyResultsInsertNoRows(t *testing.T) {
	ds := newDataset(t, []string{"Text", "Other"}, []string{"t", "o"})

	c, err := NewChange(1, []string{"s1", "s2"}, []string{"A", "B"}, NewMatrix(1, 2))
	require.NoError(t, err)
	require.NoError(t, c.Apply(ds))

	assert.Equal(t, []string{"Text", "A", "B", "Other"}, ds.Header())
	assert.Equal(t, [][]string{{"t", "", "", "o"}}, ds.Records(0, 0))
	assert.Empty(t, c.AddedRows())
}

func TestChange_RoundTripRestoresDataset(t *testing.T) {
	ds := newDataset(t, []string{"Text", "Tail"},
		[]string{"r0", "t0"}, []string{"r1", "t1"}, []string{"r2", "t2"}, []string{"r3", "t3"})
	before := ds.Records(0, 0)

	c, err := NewChange(1, []string{"s1", "s2"}, []string{"A", "B"}, Matrix{
		{{"1", "2", "3"}, {"x"}},
		{{}, {}},
		{{"4"}, {"y", "z"}},
		{{"5", "6"}, {}},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Apply(ds))
		assert.Equal(t, 4+2+1+1, ds.RowCount())
		assert.Equal(t, []int{1, 2, 5, 7}, c.AddedRows())

		require.NoError(t, c.Revert(ds))
		assert.Equal(t, 4, ds.RowCount())
		assert.Equal(t, 2, ds.ColumnCount())
		assert.Equal(t, before, ds.Records(0, 0))
	}
}

func TestChange_StateViolations(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"})
	c, err := NewChange(1, []string{"s"}, []string{"S"}, Matrix{{{"v"}}})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Revert(ds), ErrNotApplied)

	require.NoError(t, c.Apply(ds))
	assert.ErrorIs(t, c.Apply(ds), ErrAlreadyApplied)

	require.NoError(t, c.Revert(ds))
	assert.ErrorIs(t, c.Revert(ds), ErrNotApplied)
	assert.Equal(t, []string{"Text"}, ds.Header())
}

func TestChange_ApplyValidatesBeforeMutating(t *testing.T) {
	tests := []struct {
		name    string
		column  int
		columns []string
		matrix  Matrix
		wantErr error
	}{
		{"row count mismatch", 1, []string{"A"}, Matrix{{{"v"}}}, ErrIntegrity},
		{"position out of range", 5, []string{"A"}, NewMatrix(2, 1), ErrIntegrity},
		{"existing column", 1, []string{"Text"}, NewMatrix(2, 1), dataset.ErrColumnExists},
		{"duplicate names", 1, []string{"A", "A"}, NewMatrix(2, 2), dataset.ErrColumnExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"})
			services := make([]string, len(tt.columns))
			for i := range services {
				services[i] = "s" + strconv.Itoa(i)
			}
			c, err := NewChange(tt.column, services, tt.columns, tt.matrix)
			require.NoError(t, err)

			assert.ErrorIs(t, c.Apply(ds), tt.wantErr)
			assert.False(t, c.Applied())
			assert.Equal(t, []string{"Text"}, ds.Header())
			assert.Equal(t, 2, ds.RowCount())
		})
	}
}

func TestChange_RevertDetectsOutOfBandEdits(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"})
	c, err := NewChange(1, []string{"s"}, []string{"S"}, Matrix{{{"1", "2", "3"}}, {{"4"}}})
	require.NoError(t, err)
	require.NoError(t, c.Apply(ds))
	require.Equal(t, []int{1, 2}, c.AddedRows())

	// Remove two rows behind the change's back.
	require.NoError(t, ds.Update(func(tx *dataset.Tx) error {
		if err := tx.RemoveRow(3); err != nil {
			return err
		}
		return tx.RemoveRow(2)
	}))

	assert.ErrorIs(t, c.Revert(ds), ErrIntegrity)
	assert.True(t, c.Applied())
	assert.Equal(t, []string{"Text", "S"}, ds.Header())
}

func TestChange_RevertDetectsRenamedColumn(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"})
	c, err := NewChange(1, []string{"s"}, []string{"S"}, Matrix{{{"v"}}})
	require.NoError(t, err)
	require.NoError(t, c.Apply(ds))

	require.NoError(t, ds.Update(func(tx *dataset.Tx) error {
		if _, err := tx.RemoveColumn(1); err != nil {
			return err
		}
		_, err := tx.InsertColumn("Other", 1)
		return err
	}))

	assert.ErrorIs(t, c.Revert(ds), ErrIntegrity)
}

func TestNewChange_Validation(t *testing.T) {
	_, err := NewChange(-1, []string{"s"}, []string{"S"}, nil)
	assert.Error(t, err)
	_, err = NewChange(0, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewChange(0, []string{"s"}, []string{"A", "B"}, nil)
	assert.Error(t, err)
	_, err = NewChange(0, []string{"s"}, []string{"S"}, Matrix{{{"a"}, {"b"}}})
	assert.Error(t, err)
}

func TestCodec_RoundTripRevertsIdentically(t *testing.T) {
	matrix := Matrix{
		{{"a", "b"}, {"x"}},
		{{}, {}},
		{{"ü"}, {"y", "z", "w"}},
	}
	ds := newDataset(t, []string{"Text"}, []string{"1"}, []string{"2"}, []string{"3"})
	before := ds.Records(0, 0)

	c, err := NewChange(1, []string{"s1", "s2"}, []string{"A", "B"}, matrix)
	require.NoError(t, err)
	require.NoError(t, c.Apply(ds))
	applied := ds.Records(0, 0)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	decoded, err := DecodeChange(data)
	require.NoError(t, err)
	assert.True(t, decoded.Applied())
	assert.Equal(t, c.AddedRows(), decoded.AddedRows())
	assert.Equal(t, c.Services(), decoded.Services())
	assert.Equal(t, c.Columns(), decoded.Columns())
	assert.Equal(t, matrix, decoded.Matrix())

	require.NoError(t, decoded.Revert(ds))
	assert.Equal(t, before, ds.Records(0, 0))

	// The detached copy replays the same edit.
	replay := decoded.Detached()
	require.NoError(t, replay.Apply(ds))
	assert.Equal(t, applied, ds.Records(0, 0))
	assert.Equal(t, c.AddedRows(), replay.AddedRows())
}

func TestCodec_WireShape(t *testing.T) {
	c, err := NewChange(2, []string{"s"}, []string{"S"}, Matrix{{{"v"}}})
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"column": 2,
		"services": ["s"],
		"columns": ["S"],
		"rows": 1,
		"elements": [[[{"extractedText": "v"}]]],
		"addedRows": [],
		"applied": false
	}`, string(data))
}

func TestDecodeChange_Legacy(t *testing.T) {
	data := `{"column":1,"services":["s"],"columns":["S"],
		"elements":[[[{"extractedText":"a"},{"extractedText":"b"}]],[]],"addedRows":[1]}`

	c, err := DecodeChange([]byte(data))
	require.NoError(t, err)
	assert.True(t, c.Applied())
	assert.Equal(t, Matrix{{{"a", "b"}}, {{}}}, c.Matrix())
	assert.Equal(t, []int{1}, c.AddedRows())

	ds := newDataset(t, []string{"Text", "S"}, []string{"t1", "a"}, []string{"", "b"}, []string{"t2", ""})
	require.NoError(t, c.Revert(ds))
	assert.Equal(t, [][]string{{"t1"}, {"t2"}}, ds.Records(0, 0))
}

func TestDecodeChange_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing column", `{"services":["s"],"columns":["S"],"elements":[],"addedRows":[]}`},
		{"missing services", `{"column":0,"columns":["S"],"elements":[],"addedRows":[]}`},
		{"missing columns", `{"column":0,"services":["s"],"elements":[],"addedRows":[]}`},
		{"missing elements", `{"column":0,"services":["s"],"columns":["S"],"addedRows":[]}`},
		{"missing addedRows", `{"column":0,"services":["s"],"columns":["S"],"elements":[]}`},
		{"negative column", `{"column":-1,"services":["s"],"columns":["S"],"elements":[],"addedRows":[]}`},
		{"column count", `{"column":0,"services":["s"],"columns":["S","T"],"elements":[],"addedRows":[]}`},
		{"row count", `{"column":0,"services":["s"],"columns":["S"],"rows":2,"elements":[[[]]],"addedRows":[]}`},
		{"service count", `{"column":0,"services":["s"],"columns":["S"],"elements":[[[],[]]],"addedRows":[]}`},
		{"rows not ascending", `{"column":0,"services":["s"],"columns":["S"],"elements":[],"addedRows":[2,1]}`},
		{"negative row", `{"column":0,"services":["s"],"columns":["S"],"elements":[],"addedRows":[-1]}`},
		{"idle with rows", `{"column":0,"services":["s"],"columns":["S"],"elements":[],"addedRows":[1],"applied":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChange([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedChange)
		})
	}
}
