package extraction

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
)

type recordingSupervisor struct {
	mu        sync.Mutex
	completed []history.Entry
	cancelled int
	failed    []error
}

func (s *recordingSupervisor) JobCompleted(_ *Job, e history.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, e)
}

func (s *recordingSupervisor) JobCancelled(*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
}

func (s *recordingSupervisor) JobFailed(_ *Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, err)
}

// columnService is an extractor with a column property.
type columnService struct {
	extractFunc
	column string
}

func (s columnService) Property(name string) string {
	if name == "column" {
		return s.column
	}
	return ""
}

func newHistory(t *testing.T, ds *dataset.Dataset) (*history.History, journal.Store) {
	t.Helper()
	store := journal.NewMemoryStore()
	require.NoError(t, store.CreateProject(context.Background(), journal.Project{ID: "p", Name: "p"}))
	return history.New("p", ds, store), store
}

func TestJob_EndToEnd(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"hello"}, []string{""})
	h, store := newHistory(t, ds)
	sup := &recordingSupervisor{}

	a := &counting{inner: extractFunc(func(_ context.Context, text string) ([]string, error) {
		return []string{strconv.Itoa(len(text))}, nil
	})}
	var progress []int
	job := &Job{
		ID:     "job-1",
		Column: "Text",
		Bindings: []Binding{
			{Name: "A", Service: a},
			{Name: "B", Service: constant()},
		},
		History:    h,
		Supervisor: sup,
		Progress:   func(p int) { progress = append(progress, p) },
	}
	job.Run(context.Background())

	require.Len(t, sup.completed, 1)
	assert.Empty(t, sup.failed)
	assert.Equal(t, "Extract element value in column Text", sup.completed[0].Description)
	assert.Equal(t, Kind, sup.completed[0].Kind)

	assert.Equal(t, []string{"Text", "A", "B"}, ds.Header())
	assert.Equal(t, [][]string{{"hello", "5", ""}, {"", "", ""}}, ds.Records(0, 0))
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, []int{50, 100}, progress)

	records, err := store.Entries(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, records, 1)
	decoded, err := DecodeChange(records[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Column())
	assert.Equal(t, []string{"A", "B"}, decoded.Services())

	_, err = h.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"hello"}, {""}}, ds.Records(0, 0))

	_, err = h.Redo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Text", "A", "B"}, ds.Header())
}

func TestJob_ReplayFromJournal(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a b"})
	h, store := newHistory(t, ds)
	split := extractFunc(func(_ context.Context, text string) ([]string, error) {
		return []string{text[:1], text[2:]}, nil
	})
	job := &Job{
		Column:     "Text",
		Bindings:   []Binding{{Name: "words", Service: split}},
		History:    h,
		Supervisor: &recordingSupervisor{},
	}
	job.Run(context.Background())
	require.Equal(t, 2, ds.RowCount())

	records, err := store.Entries(context.Background(), "p")
	require.NoError(t, err)

	base := newDataset(t, []string{"Text"}, []string{"a b"})
	restored, err := history.Replay("p", base, store, records, 1)
	require.NoError(t, err)
	assert.Equal(t, ds.Records(0, 0), base.Records(0, 0))

	_, err = restored.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a b"}}, base.Records(0, 0))
}

func TestJob_UsesColumnProperty(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"x"})
	h, _ := newHistory(t, ds)
	sup := &recordingSupervisor{}

	job := &Job{
		Column: "Text",
		Bindings: []Binding{
			{Name: "emails", Service: columnService{extractFunc: constant("e"), column: "Email"}},
			{Name: "urls", Service: columnService{extractFunc: constant("u")}},
		},
		History:    h,
		Supervisor: sup,
	}
	job.Run(context.Background())

	require.Len(t, sup.completed, 1)
	assert.Equal(t, []string{"Text", "Email", "urls"}, ds.Header())
}

func TestJob_Cancelled(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"}, []string{"b"})
	h, store := newHistory(t, ds)
	sup := &recordingSupervisor{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &Job{
		Column:     "Text",
		Bindings:   []Binding{{Name: "s", Service: constant("v")}},
		History:    h,
		Supervisor: sup,
	}
	job.Run(ctx)

	assert.Equal(t, 1, sup.cancelled)
	assert.Empty(t, sup.completed)
	assert.Equal(t, []string{"Text"}, ds.Header())
	records, err := store.Entries(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJob_Failures(t *testing.T) {
	tests := []struct {
		name     string
		column   string
		bindings []Binding
		wantErr  error
	}{
		{
			name:     "unknown source column",
			column:   "Missing",
			bindings: []Binding{{Name: "s", Service: constant()}},
			wantErr:  dataset.ErrColumnNotFound,
		},
		{
			name:     "destination exists",
			column:   "Text",
			bindings: []Binding{{Name: "Text", Service: constant()}},
			wantErr:  dataset.ErrColumnExists,
		},
		{
			name:   "destinations collide",
			column: "Text",
			bindings: []Binding{
				{Name: "a", Service: columnService{extractFunc: constant(), column: "Same"}},
				{Name: "b", Service: columnService{extractFunc: constant(), column: "Same"}},
			},
			wantErr: dataset.ErrColumnExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := newDataset(t, []string{"Text"}, []string{"a"})
			h, _ := newHistory(t, ds)
			sup := &recordingSupervisor{}

			job := &Job{Column: tt.column, Bindings: tt.bindings, History: h, Supervisor: sup}
			job.Run(context.Background())

			require.Len(t, sup.failed, 1)
			assert.ErrorIs(t, sup.failed[0], tt.wantErr)
			assert.Equal(t, []string{"Text"}, ds.Header())
		})
	}
}

func TestJob_FilterFailureExtractsNothing(t *testing.T) {
	ds := newDataset(t, []string{"Text"}, []string{"a"})
	h, _ := newHistory(t, ds)
	sup := &recordingSupervisor{}
	svc := &counting{inner: constant("v")}

	job := &Job{
		Column:     "Text",
		Bindings:   []Binding{{Name: "s", Service: svc}},
		Filter:     rowfilter.FilterSet{Filters: []rowfilter.ColumnFilter{{Column: "Nope", Operator: rowfilter.OpEquals, Value: "x"}}},
		History:    h,
		Supervisor: sup,
	}
	job.Run(context.Background())

	require.Len(t, sup.completed, 1)
	assert.Zero(t, svc.calls.Load())
	assert.Equal(t, [][]string{{"a", ""}}, ds.Records(0, 0))
}

func TestJob_FilterSelectsRows(t *testing.T) {
	ds := newDataset(t, []string{"Kind", "Text"}, []string{"x", "one"}, []string{"y", "two"})
	h, _ := newHistory(t, ds)
	sup := &recordingSupervisor{}

	job := &Job{
		Column:     "Text",
		Bindings:   []Binding{{Name: "s", Service: extractFunc(func(_ context.Context, text string) ([]string, error) { return []string{text}, nil })}},
		Filter:     rowfilter.FilterSet{Filters: []rowfilter.ColumnFilter{{Column: "Kind", Operator: rowfilter.OpEquals, Value: "y"}}},
		History:    h,
		Supervisor: sup,
	}
	job.Run(context.Background())

	require.Len(t, sup.completed, 1)
	assert.Equal(t, [][]string{{"x", "one", ""}, {"y", "two", "two"}}, ds.Records(0, 0))
}
