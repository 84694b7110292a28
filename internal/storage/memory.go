package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskrails/internal/domain"
)

// MemoryStore is an in-memory implementation for quick start and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	specs    map[string]domain.SpecRecord
	roster   []domain.AgentCollection
	tasks    []domain.BacklogItem
	taskIDs  map[string]int
	projects map[string]domain.SavedProject
	model    domain.ModelSelection
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:    make(map[string]domain.SpecRecord),
		taskIDs:  make(map[string]int),
		projects: make(map[string]domain.SavedProject),
	}
}

func (m *MemoryStore) PutSpec(_ context.Context, rec domain.SpecRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return Wrap("put spec", fmt.Errorf("spec id required: %w", ErrValidation))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetSpec(_ context.Context, id string) (domain.SpecRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.specs[id]
	if !ok {
		return domain.SpecRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListCollections(_ context.Context) ([]domain.AgentCollection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.AgentCollection{}, m.roster...), nil
}

func (m *MemoryStore) UpsertCollection(_ context.Context, c domain.AgentCollection) error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return Wrap("upsert roster", fmt.Errorf("project id required: %w", ErrValidation))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = UpsertRoster(m.roster, c)
	return nil
}

func (m *MemoryStore) CreateTask(_ context.Context, item domain.BacklogItem) error {
	if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Title) == "" {
		return Wrap("create task", fmt.Errorf("task id and title required: %w", ErrValidation))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.taskIDs[item.ID]; ok {
		item.CreatedAt = m.tasks[i].CreatedAt
		m.tasks[i] = item
		return nil
	}
	m.taskIDs[item.ID] = len(m.tasks)
	m.tasks = append(m.tasks, item)
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context) ([]domain.BacklogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BacklogItem{}, m.tasks...), nil
}

func (m *MemoryStore) SaveProject(_ context.Context, p domain.SavedProject) error {
	if strings.TrimSpace(p.ID) == "" {
		return Wrap("save project", fmt.Errorf("project id required: %w", ErrValidation))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	for _, s := range m.sortedProjectsLocked()[min(len(m.projects), MaxSavedProjects):] {
		delete(m.projects, s.ID)
	}
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (domain.SavedProject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.SavedProject{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListProjects(_ context.Context) ([]domain.SavedProjectSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedProjectsLocked(), nil
}

func (m *MemoryStore) sortedProjectsLocked() []domain.SavedProjectSummary {
	out := make([]domain.SavedProjectSummary, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, Summarize(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out
}

func (m *MemoryStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *MemoryStore) GetModelDefaults(_ context.Context) (domain.ModelSelection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model, nil
}

func (m *MemoryStore) SaveModelDefaults(_ context.Context, sel domain.ModelSelection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = sel
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// MemoryDocumentStore is an in-memory DocumentStore.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]string
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]string)}
}

func (m *MemoryDocumentStore) PutDocument(_ context.Context, name, content string) error {
	if err := ValidateDocumentName(name); err != nil {
		return Wrap("put document", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = content
	return nil
}

func (m *MemoryDocumentStore) GetDocument(_ context.Context, name string) (domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.docs[name]
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	return domain.Document{Name: name, Content: c}, nil
}

func (m *MemoryDocumentStore) ListDocuments(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for name := range m.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryDocumentStore) DeleteDocument(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[name]; !ok {
		return ErrNotFound
	}
	delete(m.docs, name)
	return nil
}
