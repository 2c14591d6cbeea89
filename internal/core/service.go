package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/logging"
	"github.com/JonMunkholm/colextract/internal/services"
)

// DefaultMaxFileSize is the upload limit used when Options leaves it unset.
const DefaultMaxFileSize int64 = 100 << 20

var (
	// ErrProjectBusy is returned when a project already runs a job.
	ErrProjectBusy = errors.New("project already has an active extraction job")

	// ErrJobNotFound is returned for an unknown or expired job id.
	ErrJobNotFound = errors.New("extraction job not found")

	// ErrFileTooLarge is returned by ImportCSV above the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrShuttingDown is returned by StartExtraction after Shutdown began.
	ErrShuttingDown = errors.New("service is shutting down")
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	MaxConcurrentJobs int
	MaxWait           time.Duration

	// JobTimeout bounds a whole job. Zero means no limit.
	JobTimeout time.Duration

	// ServiceTimeout bounds a single service call. Zero means no limit.
	ServiceTimeout time.Duration

	MaxFileSize int64
}

// Service owns the loaded projects and their extraction jobs. Web handlers
// and tests use it; it has no transport dependencies.
type Service struct {
	store    journal.Store
	services *services.Manager
	limiter  *JobLimiter
	opts     Options

	mu       sync.RWMutex
	projects map[string]*project
	jobs     map[string]*activeJob
	closing  bool
}

type project struct {
	id        string
	name      string
	createdAt time.Time
	history   *history.History

	// activeJob is the running job id, guarded by Service.mu.
	activeJob string
}

// NewService creates a Service over store with services from manager.
func NewService(store journal.Store, manager *services.Manager, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	return &Service{
		store:    store,
		services: manager,
		limiter:  NewJobLimiter(opts.MaxConcurrentJobs, opts.MaxWait),
		opts:     opts,
		projects: make(map[string]*project),
		jobs:     make(map[string]*activeJob),
	}
}

// Services returns the service manager.
func (s *Service) Services() *services.Manager { return s.services }

// LimiterStatus reports job slot usage.
func (s *Service) LimiterStatus() JobLimiterStatus { return s.limiter.Status() }

// Restore loads every stored project by replaying its journal over the base
// CSV. A project that fails to load is logged and skipped so one bad record
// cannot keep the others offline. It returns the number of projects loaded.
func (s *Service) Restore(ctx context.Context) (int, error) {
	stored, err := s.store.Projects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}

	loaded := 0
	for _, meta := range stored {
		p, err := s.restoreProject(ctx, meta.ID)
		if err != nil {
			slog.Warn("skipping project that failed to restore", "project_id", meta.ID, "error", err)
			continue
		}
		s.mu.Lock()
		s.projects[p.id] = p
		s.mu.Unlock()
		loaded++
	}

	slog.Info("projects restored", "loaded", loaded, "skipped", len(stored)-loaded)
	return loaded, nil
}

func (s *Service) restoreProject(ctx context.Context, id string) (*project, error) {
	meta, err := s.store.Project(ctx, id)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.ReadCSV(bytes.NewReader(meta.BaseCSV))
	if err != nil {
		return nil, fmt.Errorf("parse base csv: %w", err)
	}
	records, err := s.store.Entries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	h, err := history.Replay(id, ds, s.store, records, meta.Head)
	if err != nil {
		return nil, err
	}
	return &project{id: id, name: meta.Name, createdAt: meta.CreatedAt, history: h}, nil
}

// ImportCSV creates a project from CSV data. A UTF-8 BOM is skipped and
// invalid UTF-8 is replaced before parsing. The raw bytes are stored as the
// project's base so the table can be rebuilt from its journal.
func (s *Service) ImportCSV(ctx context.Context, name string, r io.Reader) (ProjectInfo, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.opts.MaxFileSize+1))
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		return ProjectInfo{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.opts.MaxFileSize)
	}

	ds, err := dataset.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return ProjectInfo{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled"
	}
	meta := journal.Project{
		ID:        uuid.New().String(),
		Name:      name,
		BaseCSV:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateProject(ctx, meta); err != nil {
		return ProjectInfo{}, fmt.Errorf("store project: %w", err)
	}

	p := &project{
		id:        meta.ID,
		name:      meta.Name,
		createdAt: meta.CreatedAt,
		history:   history.New(meta.ID, ds, s.store),
	}
	s.mu.Lock()
	s.projects[p.id] = p
	s.mu.Unlock()

	logging.WithFields(ctx, "project_id", p.id).Info("project imported",
		append([]any{"name", name, "rows", ds.RowCount(), "columns", ds.ColumnCount()}, requesterAttrs(ctx)...)...)
	return s.info(p), nil
}

// Projects lists loaded projects, oldest first.
func (s *Service) Projects() []ProjectInfo {
	s.mu.RLock()
	ps := make([]*project, 0, len(s.projects))
	for _, p := range s.projects {
		ps = append(ps, p)
	}
	s.mu.RUnlock()

	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].createdAt.Equal(ps[j].createdAt) {
			return ps[i].createdAt.Before(ps[j].createdAt)
		}
		return ps[i].id < ps[j].id
	})
	out := make([]ProjectInfo, len(ps))
	for i, p := range ps {
		out[i] = s.info(p)
	}
	return out
}

// Project describes one project.
func (s *Service) Project(id string) (ProjectInfo, error) {
	p, err := s.project(id)
	if err != nil {
		return ProjectInfo{}, err
	}
	return s.info(p), nil
}

// Table returns up to limit rows starting at offset. A non-positive limit
// returns every row from offset.
func (s *Service) Table(id string, offset, limit int) (TablePage, error) {
	p, err := s.project(id)
	if err != nil {
		return TablePage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	ds := p.history.Dataset()
	return TablePage{
		ProjectID: id,
		Columns:   ds.Header(),
		Rows:      ds.Records(offset, limit),
		Offset:    offset,
		Total:     ds.RowCount(),
	}, nil
}

// Export writes the project's current table as CSV.
func (s *Service) Export(id string, w io.Writer) error {
	p, err := s.project(id)
	if err != nil {
		return err
	}
	return p.history.Dataset().WriteCSV(w)
}

// DeleteProject removes a project and its journal. Projects with a running
// job cannot be deleted.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", journal.ErrProjectNotFound, id)
	}
	if p.activeJob != "" {
		s.mu.Unlock()
		return ErrProjectBusy
	}
	delete(s.projects, id)
	s.mu.Unlock()

	if err := s.store.DeleteProject(ctx, id); err != nil {
		s.mu.Lock()
		s.projects[id] = p
		s.mu.Unlock()
		return fmt.Errorf("delete project: %w", err)
	}
	logging.WithFields(ctx, "project_id", id).Info("project deleted", requesterAttrs(ctx)...)
	return nil
}

// History lists a project's history entries.
func (s *Service) History(id string) (HistoryInfo, error) {
	p, err := s.project(id)
	if err != nil {
		return HistoryInfo{}, err
	}
	return HistoryInfo{ProjectID: id, Head: p.history.Head(), Entries: p.history.Entries()}, nil
}

// Undo reverts the project's latest applied change.
func (s *Service) Undo(ctx context.Context, id string) (history.Entry, error) {
	p, err := s.idleProject(id)
	if err != nil {
		return history.Entry{}, err
	}
	e, err := p.history.Undo(ctx)
	if err != nil {
		return history.Entry{}, err
	}
	logging.WithFields(ctx, "project_id", id).Info("change undone", "entry", e.ID, "description", e.Description)
	return e, nil
}

// Redo reapplies the project's next undone change.
func (s *Service) Redo(ctx context.Context, id string) (history.Entry, error) {
	p, err := s.idleProject(id)
	if err != nil {
		return history.Entry{}, err
	}
	e, err := p.history.Redo(ctx)
	if err != nil {
		return history.Entry{}, err
	}
	logging.WithFields(ctx, "project_id", id).Info("change redone", "entry", e.ID, "description", e.Description)
	return e, nil
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, the remaining jobs are cancelled and ctx's error is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.limiter.WaitForDrain(ctx)
	if err == nil {
		return nil
	}

	s.mu.RLock()
	for _, aj := range s.jobs {
		aj.cancel()
	}
	s.mu.RUnlock()
	slog.Warn("shutdown deadline reached, cancelled running jobs", "active", s.limiter.ActiveCount())
	return err
}

func (s *Service) project(id string) (*project, error) {
	s.mu.RLock()
	p, ok := s.projects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", journal.ErrProjectNotFound, id)
	}
	return p, nil
}

// idleProject returns a project that has no running job. History moves are
// refused while a job runs because the job's change is computed against the
// table as it was when extraction started.
func (s *Service) idleProject(id string) (*project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", journal.ErrProjectNotFound, id)
	}
	if p.activeJob != "" {
		return nil, ErrProjectBusy
	}
	return p, nil
}

func (s *Service) info(p *project) ProjectInfo {
	ds := p.history.Dataset()
	s.mu.RLock()
	active := p.activeJob
	s.mu.RUnlock()
	return ProjectInfo{
		ID:        p.id,
		Name:      p.name,
		CreatedAt: p.createdAt,
		Rows:      ds.RowCount(),
		Columns:   ds.Header(),
		Head:      p.history.Head(),
		ActiveJob: active,
	}
}
