package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskrails/internal/domain"
)

func TestUpsertRoster(t *testing.T) {
	a := domain.AgentCollection{ProjectID: "project-a", ProjectName: "A"}
	b := domain.AgentCollection{ProjectID: "project-b", ProjectName: "B"}

	list := UpsertRoster(nil, a)
	list = UpsertRoster(list, b)
	if len(list) != 2 || list[0].ProjectID != "project-b" {
		t.Fatalf("new collection should be inserted at head: %+v", list)
	}

	a2 := domain.AgentCollection{ProjectID: "project-a", ProjectName: "A2"}
	updated := UpsertRoster(list, a2)
	if len(updated) != 2 {
		t.Fatalf("expected replace in place, got %d entries", len(updated))
	}
	if updated[1].ProjectName != "A2" {
		t.Fatalf("expected project-a replaced at its position: %+v", updated)
	}
	if list[1].ProjectName != "A" {
		t.Fatal("input slice must not be modified")
	}
}

func TestMemoryStore_SpecAndTasks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if err := m.PutSpec(ctx, domain.SpecRecord{Name: "no id"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var se *Error
	if err := m.PutSpec(ctx, domain.SpecRecord{}); !errors.As(err, &se) || se.Op != "put spec" {
		t.Fatalf("expected *Error with op, got %v", err)
	}

	if err := m.PutSpec(ctx, domain.SpecRecord{ID: "default", Name: "FlavorBase"}); err != nil {
		t.Fatalf("put spec: %v", err)
	}
	got, err := m.GetSpec(ctx, "default")
	if err != nil || got.Name != "FlavorBase" {
		t.Fatalf("get spec: %+v %v", got, err)
	}
	if _, err := m.GetSpec(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	item := domain.BacklogItem{Task: domain.Task{ID: "TSK-1", Title: "Set up repo"}}
	if err := m.CreateTask(ctx, item); err != nil {
		t.Fatalf("create task: %v", err)
	}
	item.Title = "Set up monorepo"
	if err := m.CreateTask(ctx, item); err != nil {
		t.Fatalf("re-create task: %v", err)
	}
	tasks, _ := m.ListTasks(ctx)
	if len(tasks) != 1 || tasks[0].Title != "Set up monorepo" {
		t.Fatalf("expected one updated task, got %+v", tasks)
	}
}

func TestMemoryStore_ProjectsCappedAndOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxSavedProjects+2; i++ {
		p := domain.SavedProject{
			ID:      fmt.Sprintf("p%02d", i),
			Name:    fmt.Sprintf("Project %d", i),
			SavedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := m.SaveProject(ctx, p); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	list, err := m.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != MaxSavedProjects {
		t.Fatalf("expected %d projects, got %d", MaxSavedProjects, len(list))
	}
	if list[0].ID != "p11" {
		t.Fatalf("expected most recent first, got %s", list[0].ID)
	}
	if _, err := m.GetProject(ctx, "p00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest project should have been pruned, got %v", err)
	}
	if err := m.DeleteProject(ctx, "p11"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteProject(ctx, "p11"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestValidateDocumentName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"specs", true},
		{"tech-stack", true},
		{"planner-diagrams", true},
		{"", false},
		{"../etc", false},
		{"a/b", false},
		{"Specs", false},
	}
	for _, tt := range tests {
		err := ValidateDocumentName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateDocumentName(%q) = %v, want valid=%v", tt.name, err, tt.valid)
		}
	}
}

func TestFileDocumentStore(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	f := NewFileDocumentStore(ws)

	list, err := f.ListDocuments(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("empty workspace list: %v %v", list, err)
	}

	if err := f.PutDocument(ctx, "specs", "# Specs\n"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := f.PutDocument(ctx, "architecture", "# Arch\n"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := f.PutDocument(ctx, "specs", "# Specs v2\n"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(ws, ".taskrails", "memory-bank", "@specs.md"))
	if err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if string(raw) != "# Specs v2\n" {
		t.Fatalf("unexpected content %q", raw)
	}

	list, _ = f.ListDocuments(ctx)
	if len(list) != 2 || list[0] != "architecture" || list[1] != "specs" {
		t.Fatalf("unexpected list %v", list)
	}

	doc, err := f.GetDocument(ctx, "architecture")
	if err != nil || doc.Content != "# Arch\n" {
		t.Fatalf("get: %+v %v", doc, err)
	}
	if err := f.DeleteDocument(ctx, "architecture"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.GetDocument(ctx, "architecture"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := f.PutDocument(ctx, "../escape", "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
