package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/colextract/internal/config"
	"github.com/JonMunkholm/colextract/internal/core"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/services"
	"github.com/JonMunkholm/colextract/internal/web"
)

func startServer(t *testing.T) string {
	t.Helper()
	manager := services.NewManager("", services.DefaultDeps())
	require.NoError(t, manager.Load())
	svc := core.NewService(journal.NewMemoryStore(), manager, core.Options{})
	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
	}
	srv := httptest.NewServer(web.NewServer(svc, cfg).Router())
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

var projectIDPattern = regexp.MustCompile(`as ([0-9a-f-]{36})`)

func TestCLI_ImportExtractUndo(t *testing.T) {
	server := startServer(t)

	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("Notes\nwrite to a@b.io\nnothing\n"), 0o644))

	out, err := run(t, server, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, `Imported "contacts"`)
	m := projectIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	id := m[1]

	out, err = run(t, server, "projects")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = run(t, server, "extract", id, "--column", "Notes", "--service", "emails", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "complete")

	out, err = run(t, server, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "emails")
	assert.Contains(t, out, "a@b.io")

	exportPath := filepath.Join(t.TempDir(), "out.csv")
	_, err = run(t, server, "export", id, "-o", exportPath)
	require.NoError(t, err)
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Equal(t, "Notes,emails\nwrite to a@b.io,a@b.io\nnothing,\n", string(data))

	out, err = run(t, server, "undo", id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Undid: "), out)

	out, err = run(t, server, "history", id)
	require.NoError(t, err)
	assert.Contains(t, out, "undone")

	_, err = run(t, server, "undo", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HIS001")
}

func TestCLI_Errors(t *testing.T) {
	server := startServer(t)

	_, err := run(t, server, "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JRN003")

	_, err = run(t, server, "extract", "missing", "--column", "A", "--service", "emails", "--filter", "A:near:x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter operator")

	_, err = run(t, server, "extract", "missing")
	require.Error(t, err)
}

func TestCLI_Services(t *testing.T) {
	server := startServer(t)

	out, err := run(t, server, "services", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "emails (regex, configured)")
	assert.Contains(t, out, "pattern = ")

	out, err = run(t, server, "services", "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "regex")
}

func TestReadEvents(t *testing.T) {
	stream := ": ping\n\nid: 1\nevent: progress\ndata: {\"percent\":50}\n\nevent: complete\ndata: {}\n\nevent: ignored\n\n"

	var got []event
	err := readEvents(strings.NewReader(stream), func(ev event) bool {
		got = append(got, ev)
		return ev.Name != "complete"
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, event{ID: "1", Name: "progress", Data: `{"percent":50}`}, got[0])
	assert.Equal(t, "complete", got[1].Name)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := newClient(srv.URL, "k1").call(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "server returned 502: upstream down", err.Error())
}
