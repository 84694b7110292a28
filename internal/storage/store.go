// Package storage defines the sinks a finished project configuration is
// deployed to, plus saved-project and settings persistence, with in-memory
// implementations for quick start and tests.
package storage

import (
	"context"

	"taskrails/internal/domain"
)

// MaxSavedProjects caps the saved-project list; the oldest entries are pruned.
const MaxSavedProjects = 10

// SpecStore persists the flattened project specification.
type SpecStore interface {
	PutSpec(ctx context.Context, rec domain.SpecRecord) error
	GetSpec(ctx context.Context, id string) (domain.SpecRecord, error)
}

// DocumentStore persists named Markdown context documents. Each PutDocument
// replaces the whole document.
type DocumentStore interface {
	PutDocument(ctx context.Context, name, content string) error
	GetDocument(ctx context.Context, name string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, name string) error
}

// RosterStore persists the agent roster as a single ordered collection.
type RosterStore interface {
	// ListCollections returns the roster in stored order.
	ListCollections(ctx context.Context) ([]domain.AgentCollection, error)
	// UpsertCollection replaces the collection with the same project id in
	// place, or inserts it at the head of the roster.
	UpsertCollection(ctx context.Context, c domain.AgentCollection) error
}

// TaskStore is the task backlog. Tasks are created one at a time; creating
// an existing id updates it in place and keeps its original position and
// creation time.
type TaskStore interface {
	CreateTask(ctx context.Context, item domain.BacklogItem) error
	ListTasks(ctx context.Context) ([]domain.BacklogItem, error)
}

// ProjectStore persists saved setup sessions.
type ProjectStore interface {
	// SaveProject inserts or replaces a project and prunes the list to
	// MaxSavedProjects most recent entries.
	SaveProject(ctx context.Context, p domain.SavedProject) error
	GetProject(ctx context.Context, id string) (domain.SavedProject, error)
	// ListProjects returns summaries, most recently saved first.
	ListProjects(ctx context.Context) ([]domain.SavedProjectSummary, error)
	DeleteProject(ctx context.Context, id string) error
}

// SettingsStore keeps the default model selection for new sessions.
type SettingsStore interface {
	GetModelDefaults(ctx context.Context) (domain.ModelSelection, error)
	SaveModelDefaults(ctx context.Context, sel domain.ModelSelection) error
}

// Store bundles the database-backed stores. Documents live in a separate
// DocumentStore (files or object storage).
type Store interface {
	SpecStore
	RosterStore
	TaskStore
	ProjectStore
	SettingsStore
	// Close releases resources held by the store
	Close() error
}

// UpsertRoster applies the roster upsert rule to list and returns the new
// list. The input slice is not modified.
func UpsertRoster(list []domain.AgentCollection, c domain.AgentCollection) []domain.AgentCollection {
	out := make([]domain.AgentCollection, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.ProjectID == c.ProjectID {
			out = append(out, c)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append([]domain.AgentCollection{c}, out...)
	}
	return out
}

// Summarize converts a saved project to its list view.
func Summarize(p domain.SavedProject) domain.SavedProjectSummary {
	return domain.SavedProjectSummary{
		ID:            p.ID,
		Name:          p.Name,
		WorkspacePath: p.WorkspacePath,
		SavedAt:       p.SavedAt,
	}
}

// HealthCheck is implemented by stores that hold a database connection.
type HealthCheck interface {
	Ping(ctx context.Context) error
}
