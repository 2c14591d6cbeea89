package services

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrUnknownService is returned when a service name is not in the manager.
var ErrUnknownService = errors.New("unknown service")

//go:embed defaults.json
var defaultServices []byte

// legacyClasses maps class names found in settings files written by the
// original plugin to registry kinds.
var legacyClasses = map[string]string{
	"com.brainymachine.extraction.services.SparkExtract": KindHTTP,
}

// Record is the persisted form of one configured service.
type Record struct {
	Name          string            `json:"name"`
	Kind          string            `json:"kind,omitempty"`
	Class         string            `json:"class,omitempty"`
	Configured    bool              `json:"configured"`
	Documentation string            `json:"documentation,omitempty"`
	Settings      map[string]string `json:"settings,omitempty"`
}

func (r Record) kind() string {
	if r.Kind != "" {
		return r.Kind
	}
	return legacyClasses[r.Class]
}

// Named pairs a service with the name it is registered under.
type Named struct {
	Name    string
	Service Service
}

// Manager is the name-keyed store of configured services.
type Manager struct {
	path string
	deps Deps

	mu       sync.RWMutex
	services map[string]Service
}

// NewManager creates an empty manager persisting to path. An empty path
// keeps settings in memory only.
func NewManager(path string, deps Deps) *Manager {
	return &Manager{
		path:     path,
		deps:     deps,
		services: make(map[string]Service),
	}
}

// Path returns the settings file path.
func (m *Manager) Path() string { return m.path }

// Load applies the built-in default services and then the settings file, if
// it exists, so services added in a new release appear automatically.
func (m *Manager) Load() error {
	if err := m.UpdateFromJSON(defaultServices); err != nil {
		return fmt.Errorf("load default services: %w", err)
	}
	return m.loadFile()
}

func (m *Manager) loadFile() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read service settings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := m.UpdateFromJSON(data); err != nil {
		return fmt.Errorf("load %s: %w", m.path, err)
	}
	return nil
}

// UpdateFromJSON decodes a JSON array of records and applies it.
func (m *Manager) UpdateFromJSON(data []byte) error {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("service settings must be a JSON array of objects: %w", err)
	}
	return m.UpdateFrom(records)
}

// UpdateFrom creates missing services and applies settings. Records of an
// unknown kind are skipped with a warning. Every record is validated before
// any service changes, so a bad record leaves the manager untouched.
func (m *Manager) UpdateFrom(records []Record) error {
	type pending struct {
		name     string
		svc      Service
		settings map[string]string
	}

	m.mu.RLock()
	plan := make([]pending, 0, len(records))
	for _, r := range records {
		if r.Name == "" {
			m.mu.RUnlock()
			return fmt.Errorf("service record without a name")
		}
		kind := r.kind()
		factory, ok := LookupKind(kind)
		if !ok {
			slog.Warn("skipping service of unknown kind", "service", r.Name, "kind", kind, "class", r.Class)
			continue
		}

		svc, exists := m.services[r.Name]
		if !exists || svc.Kind() != kind {
			svc = factory(m.deps)
		}
		declared := make(map[string]bool)
		for _, n := range svc.PropertyNames() {
			declared[n] = true
		}
		for k := range r.Settings {
			if !declared[k] {
				m.mu.RUnlock()
				return fmt.Errorf("service %q: %w %q", r.Name, ErrUnknownProperty, k)
			}
		}
		plan = append(plan, pending{name: r.Name, svc: svc, settings: r.Settings})
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range plan {
		for k, v := range p.settings {
			// Names were validated above.
			_ = p.svc.SetProperty(k, v)
		}
		m.services[p.name] = p.svc
	}
	return nil
}

// Add registers svc under name, replacing any existing service.
func (m *Manager) Add(name string, svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = svc
}

// Get returns the named service.
func (m *Manager) Get(name string) (Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// Names returns every service name, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.services))
	for n := range m.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select resolves names to services, sorted by name with duplicates removed.
func (m *Manager) Select(names []string) ([]Named, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no services selected")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(names))
	out := make([]Named, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		svc, ok := m.services[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, n)
		}
		out = append(out, Named{Name: n, Service: svc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Records returns the persisted form of every service, sorted by name.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.services))
	for name, svc := range m.services {
		settings := make(map[string]string)
		for _, p := range svc.PropertyNames() {
			settings[p] = svc.Property(p)
		}
		out = append(out, Record{
			Name:          name,
			Kind:          svc.Kind(),
			Configured:    svc.IsConfigured(),
			Documentation: svc.Documentation(),
			Settings:      settings,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Save writes every record to the settings file atomically.
func (m *Manager) Save() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.Records(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode service settings: %w", err)
	}

	if dir := filepath.Dir(m.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write service settings: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace service settings: %w", err)
	}
	return nil
}

// Watch reloads the settings file whenever it is written or replaced, until
// ctx is cancelled. Reload errors are logged and the previous settings kept.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames are seen.
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(m.path)

	slog.Info("watching service settings", "path", m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := m.loadFile(); err != nil {
				slog.Warn("service settings reload failed", "path", m.path, "error", err)
				continue
			}
			slog.Info("service settings reloaded", "path", m.path, "services", len(m.Names()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("service settings watcher error", "error", err)
		}
	}
}
