package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/metrics"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
	"github.com/JonMunkholm/colextract/internal/services"
)

// Supervisor is told how a job ended. Exactly one method is called per Run.
type Supervisor interface {
	JobCompleted(job *Job, entry history.Entry)
	JobCancelled(job *Job)
	JobFailed(job *Job, err error)
}

// Job is one extraction run over a project: extract, then apply the result
// through the project's history.
type Job struct {
	ID string

	// Column is the source column name.
	Column   string
	Bindings []Binding
	Filter   rowfilter.FilterSet

	History    *history.History
	Engine     *Engine
	Supervisor Supervisor
	Progress   ProgressFunc
	Logger     *slog.Logger
}

// Description is the history entry text for the job's change.
func (j *Job) Description() string {
	return fmt.Sprintf("Extract element value in column %s", j.Column)
}

// Run executes the job and reports the outcome to the supervisor. It is
// meant to run on its own goroutine; cancelling ctx stops extraction at the
// next row boundary without touching the dataset.
func (j *Job) Run(ctx context.Context) {
	logger := j.logger()
	start := time.Now()
	metrics.JobStarted()
	logger.Info("extraction job started", "column", j.Column, "services", len(j.Bindings))

	entry, err := j.run(ctx, logger)
	switch {
	case errors.Is(err, ErrCancelled):
		metrics.JobFinished("cancelled", time.Since(start))
		logger.Info("extraction job cancelled", "duration", time.Since(start))
		j.Supervisor.JobCancelled(j)
	case err != nil:
		metrics.JobFinished("failed", time.Since(start))
		logger.Error("extraction job failed", "error", err, "duration", time.Since(start))
		j.Supervisor.JobFailed(j, err)
	default:
		metrics.JobFinished("completed", time.Since(start))
		logger.Info("extraction job completed", "entry", entry.ID, "duration", time.Since(start))
		j.Supervisor.JobCompleted(j, entry)
	}
}

func (j *Job) run(ctx context.Context, logger *slog.Logger) (history.Entry, error) {
	ds := j.History.Dataset()

	source, pos, err := ds.ColumnByName(j.Column)
	if err != nil {
		return history.Entry{}, err
	}
	names, columns, err := destinations(ds, j.Bindings)
	if err != nil {
		return history.Entry{}, err
	}

	rows, err := rowfilter.Resolve(ds, j.Filter)
	if err != nil {
		logger.Warn("row filter failed, extracting no rows", "error", err)
		rows = rowfilter.Rows{}
	}

	engine := j.Engine
	if engine == nil {
		engine = &Engine{Logger: logger}
	}
	matrix, err := engine.Extract(ctx, ds, source, j.Bindings, rows, j.Progress)
	if err != nil {
		return history.Entry{}, err
	}

	change, err := NewChange(pos+1, names, columns, matrix)
	if err != nil {
		return history.Entry{}, err
	}
	// Extraction finished; a late cancel must not abort the journal write.
	return j.History.Add(context.WithoutCancel(ctx), j.Description(), change)
}

// destinations resolves the service names and destination column names,
// rejecting names that collide with each other or with existing columns.
func destinations(ds *dataset.Dataset, bindings []Binding) (names, columns []string, err error) {
	if len(bindings) == 0 {
		return nil, nil, errors.New("no services selected")
	}
	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		col := ColumnName(b)
		if seen[col] {
			return nil, nil, fmt.Errorf("%w: %q assigned to more than one service", dataset.ErrColumnExists, col)
		}
		if _, _, err := ds.ColumnByName(col); err == nil {
			return nil, nil, fmt.Errorf("%w: %q", dataset.ErrColumnExists, col)
		}
		seen[col] = true
		names = append(names, b.Name)
		columns = append(columns, col)
	}
	return names, columns, nil
}

// ColumnName returns the destination column for a binding: the service's
// column property when it has one, otherwise the binding name.
func ColumnName(b Binding) string {
	if p, ok := b.Service.(interface{ Property(string) string }); ok {
		if col := p.Property(services.ColumnProperty); col != "" {
			return col
		}
	}
	return b.Name
}

func (j *Job) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default().With("job_id", j.ID)
}
