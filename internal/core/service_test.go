package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
	"github.com/JonMunkholm/colextract/internal/services"
)

const mailCSV = "\ufeffText\nmail a@b.io and c@d.org\nnone\n"

// gateService blocks every call until release is closed or the call's
// context ends.
type gateService struct {
	release chan struct{}
	err     error
}

func newGate() *gateService { return &gateService{release: make(chan struct{})} }

func (g *gateService) Kind() string { return "gate" }

func (g *gateService) Extract(ctx context.Context, text string) ([]string, error) {
	select {
	case <-g.release:
		if g.err != nil {
			return nil, g.err
		}
		return []string{strings.ToUpper(text)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateService) PropertyNames() []string { return nil }
func (g *gateService) Property(string) string { return "" }
func (g *gateService) SetProperty(string, string) error {
	return services.ErrUnknownProperty
}
func (g *gateService) IsConfigured() bool { return true }
func (g *gateService) Documentation() string { return "test gate" }

func newTestService(t *testing.T, store journal.Store, opts Options) *Service {
	t.Helper()
	manager := services.NewManager("", services.DefaultDeps())
	require.NoError(t, manager.Load())
	return NewService(store, manager, opts)
}

func importMail(t *testing.T, s *Service) ProjectInfo {
	t.Helper()
	info, err := s.ImportCSV(context.Background(), "mail", strings.NewReader(mailCSV))
	require.NoError(t, err)
	return info
}

func waitResult(t *testing.T, s *Service, jobID string) JobResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.JobResult(ctx, jobID)
	require.NoError(t, err)
	return res
}

func TestService_ImportAndExport(t *testing.T) {
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info := importMail(t, s)

	assert.Equal(t, "mail", info.Name)
	assert.Equal(t, 2, info.Rows)
	assert.Equal(t, []string{"Text"}, info.Columns)
	assert.Zero(t, info.Head)

	var buf bytes.Buffer
	require.NoError(t, s.Export(info.ID, &buf))
	assert.Equal(t, "Text\nmail a@b.io and c@d.org\nnone\n", buf.String())

	page, err := s.Table(info.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"none"}}, page.Rows)
	assert.Equal(t, 2, page.Total)

	require.Len(t, s.Projects(), 1)
}

func TestService_ImportErrors(t *testing.T) {
	s := newTestService(t, journal.NewMemoryStore(), Options{MaxFileSize: 8})

	_, err := s.ImportCSV(context.Background(), "big", strings.NewReader(mailCSV))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = s.ImportCSV(context.Background(), "empty", strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, dataset.ErrEmptyFile)
	assert.Empty(t, s.Projects())
}

func TestService_ExtractionUndoRedo(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	require.NoError(t, err)

	res := waitResult(t, s, jobID)
	require.Equal(t, PhaseComplete, res.Phase, res.Error)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "Extract element value in column Text", res.Entry.Description)

	page, err := s.Table(info.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Text", "emails"}, page.Columns)
	assert.Equal(t, [][]string{
		{"mail a@b.io and c@d.org", "a@b.io"},
		{"", "c@d.org"},
		{"none", ""},
	}, page.Rows)

	h, err := s.History(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Head)
	require.Len(t, h.Entries, 1)

	_, err = s.Undo(ctx, info.ID)
	require.NoError(t, err)
	page, _ = s.Table(info.ID, 0, 0)
	assert.Equal(t, [][]string{{"mail a@b.io and c@d.org"}, {"none"}}, page.Rows)

	_, err = s.Undo(ctx, info.ID)
	assert.ErrorIs(t, err, history.ErrNothingToUndo)

	_, err = s.Redo(ctx, info.ID)
	require.NoError(t, err)
	page, _ = s.Table(info.ID, 0, 0)
	assert.Equal(t, 3, page.Total)
}

func TestService_RestoreReplaysJournal(t *testing.T) {
	ctx := context.Background()
	store := journal.NewMemoryStore()
	first := newTestService(t, store, Options{})
	info := importMail(t, first)

	jobID, err := first.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails", "urls"}})
	require.NoError(t, err)
	require.Equal(t, PhaseComplete, waitResult(t, first, jobID).Phase)
	want, _ := first.Table(info.ID, 0, 0)

	// A project whose base no longer parses is skipped.
	require.NoError(t, store.CreateProject(ctx, journal.Project{ID: "broken", Name: "broken", CreatedAt: time.Now()}))

	second := newTestService(t, store, Options{})
	loaded, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	got, err := second.Table(info.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, want.Columns, got.Columns)
	assert.Equal(t, want.Rows, got.Rows)

	_, err = second.Undo(ctx, info.ID)
	require.NoError(t, err)
	got, _ = second.Table(info.ID, 0, 0)
	assert.Equal(t, []string{"Text"}, got.Columns)

	stored, err := store.Project(ctx, info.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Head)
}

func TestService_StartExtractionValidation(t *testing.T) {
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info := importMail(t, s)

	tests := []struct {
		name      string
		projectID string
		req       ExtractionRequest
		wantErr   error
	}{
		{"unknown project", "nope", ExtractionRequest{Column: "Text", Services: []string{"emails"}}, journal.ErrProjectNotFound},
		{"unknown column", info.ID, ExtractionRequest{Column: "Body", Services: []string{"emails"}}, dataset.ErrColumnNotFound},
		{"unknown service", info.ID, ExtractionRequest{Column: "Text", Services: []string{"phones"}}, services.ErrUnknownService},
		{
			"bad filter operator",
			info.ID,
			ExtractionRequest{
				Column:   "Text",
				Services: []string{"emails"},
				Filters:  []rowfilter.ColumnFilter{{Column: "Text", Operator: "like", Value: "x"}},
			},
			rowfilter.ErrUnknownOperator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.StartExtraction(context.Background(), tt.projectID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Zero(t, s.LimiterStatus().Active)
	assert.Empty(t, s.Jobs(""))

	_, err := s.JobProgress("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.CancelJob("missing"), ErrJobNotFound)
}

func TestService_OneJobPerProject(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	gate := newGate()
	s.Services().Add("gate", gate)
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"gate"}})
	require.NoError(t, err)

	_, err = s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	assert.ErrorIs(t, err, ErrProjectBusy)
	_, err = s.Undo(ctx, info.ID)
	assert.ErrorIs(t, err, ErrProjectBusy)
	assert.ErrorIs(t, s.DeleteProject(ctx, info.ID), ErrProjectBusy)

	p, err := s.Project(info.ID)
	require.NoError(t, err)
	assert.Equal(t, jobID, p.ActiveJob)

	close(gate.release)
	res := waitResult(t, s, jobID)
	require.Equal(t, PhaseComplete, res.Phase)

	page, _ := s.Table(info.ID, 0, 0)
	assert.Equal(t, "MAIL A@B.IO AND C@D.ORG", page.Rows[0][1])

	// The slot is free again.
	next, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, waitResult(t, s, next).Phase)
}

func TestService_CancelJob(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	s.Services().Add("gate", newGate())
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"gate"}})
	require.NoError(t, err)
	require.NoError(t, s.CancelJob(jobID))

	res := waitResult(t, s, jobID)
	assert.Equal(t, PhaseCancelled, res.Phase)
	assert.Nil(t, res.Entry)

	page, _ := s.Table(info.ID, 0, 0)
	assert.Equal(t, []string{"Text"}, page.Columns)
	h, _ := s.History(info.ID)
	assert.Empty(t, h.Entries)

	// Cancelling a finished job is a no-op.
	assert.NoError(t, s.CancelJob(jobID))
}

func TestService_FailedJob(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info, err := s.ImportCSV(ctx, "dup", strings.NewReader("Text,emails\nx@y.io,\n"))
	require.NoError(t, err)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	require.NoError(t, err)

	res := waitResult(t, s, jobID)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Contains(t, res.Error, "EXT007")

	p, err := s.JobProgress(jobID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, p.Phase)
}

func TestService_CountsServiceFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	gate := newGate()
	gate.err = errors.New("backend down")
	close(gate.release)
	s.Services().Add("flaky", gate)
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"flaky"}})
	require.NoError(t, err)
	require.Equal(t, PhaseComplete, waitResult(t, s, jobID).Phase)

	p, err := s.JobProgress(jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Failures)
	assert.Equal(t, 100, p.Percent)
}

func TestService_SubscribeProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	require.NoError(t, err)
	ch, err := s.SubscribeProgress(jobID)
	require.NoError(t, err)

	var last JobProgress
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case p, ok := <-ch:
			if !ok {
				open = false
				break
			}
			assert.GreaterOrEqual(t, p.Seq, last.Seq)
			last = p
		case <-timeout:
			t.Fatal("progress channel was not closed")
		}
	}
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 100, last.Percent)

	// A late subscriber gets the final snapshot and a closed channel.
	late, err := s.SubscribeProgress(jobID)
	require.NoError(t, err)
	p, ok := <-late
	require.True(t, ok)
	assert.Equal(t, PhaseComplete, p.Phase)
	_, ok = <-late
	assert.False(t, ok)
}

func TestService_Shutdown(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	s.Services().Add("gate", newGate())
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"gate"}})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(shutdownCtx), context.DeadlineExceeded)
	assert.Equal(t, PhaseCancelled, waitResult(t, s, jobID).Phase)

	_, err = s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.NoError(t, s.Shutdown(ctx))
}

func TestService_SweepJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, journal.NewMemoryStore(), Options{})
	info := importMail(t, s)

	jobID, err := s.StartExtraction(ctx, info.ID, ExtractionRequest{Column: "Text", Services: []string{"emails"}})
	require.NoError(t, err)
	waitResult(t, s, jobID)

	assert.Zero(t, s.sweepJobs(time.Hour))
	require.Len(t, s.Jobs(info.ID), 1)

	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, s.sweepJobs(0))
	_, err = s.JobProgress(jobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestService_DeleteProject(t *testing.T) {
	ctx := context.Background()
	store := journal.NewMemoryStore()
	s := newTestService(t, store, Options{})
	info := importMail(t, s)

	require.NoError(t, s.DeleteProject(ctx, info.ID))
	_, err := s.Project(info.ID)
	assert.ErrorIs(t, err, journal.ErrProjectNotFound)
	_, err = store.Project(ctx, info.ID)
	assert.ErrorIs(t, err, journal.ErrProjectNotFound)
	assert.ErrorIs(t, s.DeleteProject(ctx, info.ID), journal.ErrProjectNotFound)
}
