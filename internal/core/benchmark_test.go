package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/services"
)

// benchCSV builds a two-column CSV with an address in every other row.
func benchCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("ID,Notes\n")
	for i := 0; i < rows; i++ {
		if i%2 == 0 {
			fmt.Fprintf(&sb, "%d,contact user%d@example.com about order %d\n", i, i, i)
		} else {
			fmt.Fprintf(&sb, "%d,no address on this row\n", i)
		}
	}
	return sb.String()
}

func newBenchService(b *testing.B) *Service {
	b.Helper()
	manager := services.NewManager("", services.DefaultDeps())
	if err := manager.Load(); err != nil {
		b.Fatal(err)
	}
	return NewService(journal.NewMemoryStore(), manager, Options{})
}

// BenchmarkImportCSV measures parsing a 10k row upload into a project.
func BenchmarkImportCSV(b *testing.B) {
	data := benchCSV(10_000)
	s := newBenchService(b)
	ctx := context.Background()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.ImportCSV(ctx, "bench", strings.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExtraction measures a full regex extraction job over 1k rows,
// including the history entry it records.
func BenchmarkExtraction(b *testing.B) {
	data := benchCSV(1_000)
	s := newBenchService(b)
	ctx := context.Background()
	req := ExtractionRequest{Column: "Notes", Services: []string{"emails"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		info, err := s.ImportCSV(ctx, "bench", strings.NewReader(data))
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		jobID, err := s.StartExtraction(ctx, info.ID, req)
		if err != nil {
			b.Fatal(err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		res, err := s.JobResult(waitCtx, jobID)
		cancel()
		if err != nil {
			b.Fatal(err)
		}
		if res.Phase != PhaseComplete {
			b.Fatalf("job %s: %s", res.Phase, res.Error)
		}
	}
}
