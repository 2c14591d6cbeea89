// Package extraction runs extraction services over a dataset column and
// materializes their results as new columns.
//
// The work is split in two. [Engine.Extract] reads the table and produces a
// [Matrix] of values per row and service; it never mutates the dataset.
// [Change] applies a matrix to the table (inserting columns and expanding
// rows) and records exactly what it inserted so that it can be reverted,
// serialized into the project journal, and replayed after a restart.
// [Job] ties the two together for one background run.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/metrics"
	"github.com/JonMunkholm/colextract/internal/rowfilter"
)

// ErrCancelled is returned by Extract when the context is cancelled. No
// partial matrix is returned with it.
var ErrCancelled = errors.New("extraction cancelled")

// Extractor turns a cell's text into an ordered list of values.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Binding is one participating service under the name it runs as.
type Binding struct {
	Name    string
	Service Extractor
}

// ProgressFunc receives the percentage of filtered rows processed so far.
type ProgressFunc func(percent int)

// ServiceError describes one failed service call. The call's result was
// replaced with an empty list.
type ServiceError struct {
	Row     int
	Service string
	Err     error
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("service %s on row %d: %v", e.Service, e.Row, e.Err)
}

func (e ServiceError) Unwrap() error { return e.Err }

// Engine extracts values row by row. The zero value is ready to use.
//
// Rows are processed one at a time in ascending order. For each selected row
// every service runs in its own goroutine and the row is joined before the
// next one starts, so at most len(bindings) calls are in flight.
type Engine struct {
	// ServiceTimeout bounds a single service call. Zero means no limit
	// other than the context passed to Extract.
	ServiceTimeout time.Duration

	// OnServiceError, when set, is called for every failed service call.
	// It may be called from several goroutines at once.
	OnServiceError func(ServiceError)

	Logger *slog.Logger
}

// Extract runs bindings over the source column of every row in filter.
//
// A row outside filter gets an empty list for every service and does not
// count toward progress. A selected row with blank text also gets empty
// lists but does count. Service failures and panics degrade to an empty list
// for that row and service. Cancellation is checked once per row, after the
// row's calls have returned.
func (e *Engine) Extract(ctx context.Context, ds *dataset.Dataset, source dataset.Column, bindings []Binding, filter rowfilter.Rows, progress ProgressFunc) (Matrix, error) {
	n := ds.RowCount()
	matrix := NewMatrix(n, len(bindings))

	filtered := 0
	for row := range filter {
		if row >= 0 && row < n {
			filtered++
		}
	}

	processed := 0
	for row := 0; row < n && filtered > 0; row++ {
		if filter.Contains(row) {
			text := strings.TrimSpace(ds.Cell(row, source.CellIndex))
			if text != "" {
				e.extractRow(ctx, row, text, bindings, matrix[row])
			}

			processed++
			metrics.RecordRowProcessed()
			if progress != nil {
				progress(int(math.Round(100 * float64(processed) / float64(filtered))))
			}
		}

		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
	}

	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	return matrix, nil
}

// extractRow fans one row out to every binding and waits for all of them.
// Each goroutine writes only its own slot of out.
func (e *Engine) extractRow(ctx context.Context, row int, text string, bindings []Binding, out [][]string) {
	var g errgroup.Group
	for i, b := range bindings {
		i, b := i, b
		g.Go(func() error {
			out[i] = e.call(ctx, row, b, text)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) call(ctx context.Context, row int, b Binding, text string) (values []string) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			values = []string{}
			e.report(ctx, ServiceError{Row: row, Service: b.Name, Err: fmt.Errorf("panic: %v", r)})
		}
		metrics.RecordServiceCall(b.Name, outcome, time.Since(start))
	}()

	callCtx := ctx
	if e.ServiceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.ServiceTimeout)
		defer cancel()
	}

	result, err := b.Service.Extract(callCtx, text)
	if err != nil {
		outcome = "error"
		e.report(ctx, ServiceError{Row: row, Service: b.Name, Err: err})
		return []string{}
	}
	return append([]string{}, result...)
}

// report logs a failed call. Failures caused by the job being cancelled are
// expected and only logged at debug level.
func (e *Engine) report(ctx context.Context, se ServiceError) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if ctx.Err() != nil {
		logger.Debug("service call abandoned", "row", se.Row, "service", se.Service, "error", se.Err)
		return
	}
	logger.Warn("service call failed", "row", se.Row, "service", se.Service, "error", se.Err)
	if e.OnServiceError != nil {
		e.OnServiceError(se)
	}
}
