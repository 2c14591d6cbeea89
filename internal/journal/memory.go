package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memProject struct {
	project Project
	records []Record
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*memProject
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*memProject)}
}

func (m *MemoryStore) CreateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrProjectExists, p.ID)
	}
	p.Head = 0
	p.BaseCSV = append([]byte(nil), p.BaseCSV...)
	m.projects[p.ID] = &memProject{project: p}
	return nil
}

func (m *MemoryStore) Projects(_ context.Context) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Project, 0, len(m.projects))
	for _, mp := range m.projects {
		p := mp.project
		p.BaseCSV = nil
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

func (m *MemoryStore) Project(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	p := mp.project
	p.BaseCSV = append([]byte(nil), p.BaseCSV...)
	return p, nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	delete(m.projects, id)
	return nil
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.projects[rec.ProjectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, rec.ProjectID)
	}
	if rec.Seq != mp.project.Head+1 {
		return fmt.Errorf("%w: record %d after head %d", ErrSequence, rec.Seq, mp.project.Head)
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	mp.records = append(mp.records[:mp.project.Head], rec)
	mp.project.Head = rec.Seq
	return nil
}

func (m *MemoryStore) SetHead(_ context.Context, projectID string, head int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if head < 0 || head > len(mp.records) {
		return fmt.Errorf("%w: head %d with %d records", ErrSequence, head, len(mp.records))
	}
	mp.project.Head = head
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, projectID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return append([]Record(nil), mp.records...), nil
}

func (m *MemoryStore) Close() error { return nil }

func sortProjects(ps []Project) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
