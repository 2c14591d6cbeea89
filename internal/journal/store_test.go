package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories returns every backend available in the test environment.
// Postgres runs only when COLEXTRACT_TEST_DATABASE_URL is set.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"badger": func(t *testing.T) Store {
			s, err := OpenBadgerInMemory()
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("COLEXTRACT_TEST_DATABASE_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), url, PoolConfig{MaxConns: 2})
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), `TRUNCATE projects CASCADE`)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func record(project string, seq int) Record {
	return Record{
		ProjectID:   project,
		Seq:         seq,
		ID:          "entry-" + string(rune('a'+seq)),
		Kind:        "test",
		Description: "change",
		Payload:     []byte(`{"n":` + string(rune('0'+seq)) + `}`),
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, seq, 0, time.UTC),
	}
}

func TestStore_Projects(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, s.CreateProject(ctx, Project{ID: "p2", Name: "second", BaseCSV: []byte("a\n2\n"), CreatedAt: t0.Add(time.Hour)}))
		require.NoError(t, s.CreateProject(ctx, Project{ID: "p1", Name: "first", BaseCSV: []byte("a\n1\n"), CreatedAt: t0}))

		err := s.CreateProject(ctx, Project{ID: "p1", Name: "dup"})
		assert.ErrorIs(t, err, ErrProjectExists)

		list, err := s.Projects(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "p1", list[0].ID)
		assert.Equal(t, "p2", list[1].ID)
		assert.Empty(t, list[0].BaseCSV)

		p, err := s.Project(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "first", p.Name)
		assert.Equal(t, []byte("a\n1\n"), p.BaseCSV)
		assert.Equal(t, 0, p.Head)

		_, err = s.Project(ctx, "missing")
		assert.ErrorIs(t, err, ErrProjectNotFound)

		require.NoError(t, s.DeleteProject(ctx, "p2"))
		assert.ErrorIs(t, s.DeleteProject(ctx, "p2"), ErrProjectNotFound)
		list, err = s.Projects(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestStore_AppendAndHead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateProject(ctx, Project{ID: "p", Name: "p", BaseCSV: []byte("x\n")}))

		require.NoError(t, s.Append(ctx, record("p", 1)))
		require.NoError(t, s.Append(ctx, record("p", 2)))
		require.NoError(t, s.Append(ctx, record("p", 3)))

		assert.ErrorIs(t, s.Append(ctx, record("p", 3)), ErrSequence)
		assert.ErrorIs(t, s.Append(ctx, record("missing", 1)), ErrProjectNotFound)

		entries, err := s.Entries(ctx, "p")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Seq, entries[1].Seq, entries[2].Seq})
		assert.JSONEq(t, `{"n":2}`, string(entries[1].Payload))

		// Undo twice, then append: the redo tail is discarded.
		require.NoError(t, s.SetHead(ctx, "p", 1))
		p, err := s.Project(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, 1, p.Head)

		entries, err = s.Entries(ctx, "p")
		require.NoError(t, err)
		assert.Len(t, entries, 3)

		require.NoError(t, s.Append(ctx, record("p", 2)))
		entries, err = s.Entries(ctx, "p")
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		assert.ErrorIs(t, s.SetHead(ctx, "p", 3), ErrSequence)
		assert.ErrorIs(t, s.SetHead(ctx, "p", -1), ErrSequence)
		require.NoError(t, s.SetHead(ctx, "p", 0))
	})
}

func TestStore_DeleteRemovesEntries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateProject(ctx, Project{ID: "p", Name: "p"}))
		require.NoError(t, s.Append(ctx, record("p", 1)))
		require.NoError(t, s.DeleteProject(ctx, "p"))

		_, err := s.Entries(ctx, "p")
		assert.ErrorIs(t, err, ErrProjectNotFound)

		require.NoError(t, s.CreateProject(ctx, Project{ID: "p", Name: "again"}))
		entries, err := s.Entries(ctx, "p")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.CreateProject(ctx, Project{ID: "p", Name: "p", BaseCSV: []byte("a\n1\n")}))
	require.NoError(t, s.Append(ctx, record("p", 1)))
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Project(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Head)
	assert.Equal(t, []byte("a\n1\n"), p.BaseCSV)

	entries, err := s.Entries(ctx, "p")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "test", entries[0].Kind)
}

func TestSeal(t *testing.T) {
	sealed := seal([]byte("hello"))
	assert.Len(t, sealed, 9)
	assert.Equal(t, []byte("hello"), sealed[4:])
}
