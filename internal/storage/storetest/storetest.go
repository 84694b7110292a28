// Package storetest checks that a storage.Store implementation honours the
// contract shared by every backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

// Run exercises a fresh store returned by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, storage.Store)
	}{
		{"Spec", testSpec},
		{"Roster", testRoster},
		{"Tasks", testTasks},
		{"Projects", testProjects},
		{"ProjectsPruned", testProjectsPruned},
		{"ModelDefaults", testModelDefaults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSpec(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.PutSpec(ctx, domain.SpecRecord{Name: "no id"}); !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.GetSpec(ctx, "default"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rec := domain.SpecRecord{ID: "default", Name: "FlavorBase", TechStack: "Go\nPostgreSQL", Features: "1. Search", UpdatedAt: base}
	if err := s.PutSpec(ctx, rec); err != nil {
		t.Fatalf("put spec: %v", err)
	}
	rec.Name = "FlavorBase 2"
	rec.UpdatedAt = base.Add(time.Minute)
	if err := s.PutSpec(ctx, rec); err != nil {
		t.Fatalf("overwrite spec: %v", err)
	}
	got, err := s.GetSpec(ctx, "default")
	if err != nil {
		t.Fatalf("get spec: %v", err)
	}
	if got.Name != "FlavorBase 2" || got.TechStack != "Go\nPostgreSQL" || !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("unexpected spec %+v", got)
	}
}

func testRoster(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.UpsertCollection(ctx, domain.AgentCollection{}); !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	a := domain.AgentCollection{ProjectID: "project-a", ProjectName: "A", LastUpdated: base,
		Agents: []domain.RosterAgent{{Name: "Architect", Role: "design", SystemPrompt: "You design."}}}
	b := domain.AgentCollection{ProjectID: "project-b", ProjectName: "B", LastUpdated: base}
	for _, c := range []domain.AgentCollection{a, b} {
		if err := s.UpsertCollection(ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.ProjectID, err)
		}
	}
	list, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ProjectID != "project-b" || list[1].ProjectID != "project-a" {
		t.Fatalf("new collections belong at the head: %+v", list)
	}
	if len(list[1].Agents) != 1 || list[1].Agents[0].SystemPrompt != "You design." {
		t.Fatalf("agents not round-tripped: %+v", list[1].Agents)
	}

	a.ProjectName = "A2"
	a.Agents = nil
	if err := s.UpsertCollection(ctx, a); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	list, _ = s.ListCollections(ctx)
	if len(list) != 2 || list[1].ProjectID != "project-a" || list[1].ProjectName != "A2" || len(list[1].Agents) != 0 {
		t.Fatalf("existing collection should be replaced in place: %+v", list)
	}
}

func testTasks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, domain.BacklogItem{Task: domain.Task{ID: "TSK-x"}}); !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected validation error for missing title, got %v", err)
	}
	for i := 1; i <= 3; i++ {
		item := domain.BacklogItem{
			Task:      domain.Task{ID: fmt.Sprintf("TSK-%d", i), Title: fmt.Sprintf("Task %d", i), Priority: "3", Status: domain.TaskTodo},
			Tag:       "AI-Generated",
			CreatedAt: base,
		}
		if err := s.CreateTask(ctx, item); err != nil {
			t.Fatalf("create %s: %v", item.ID, err)
		}
	}
	again := domain.BacklogItem{
		Task:      domain.Task{ID: "TSK-2", Title: "Task 2 revised", Priority: "1", Status: domain.TaskDoing},
		Tag:       "AI-Generated",
		CreatedAt: base.Add(time.Hour),
	}
	for range 2 {
		if err := s.CreateTask(ctx, again); err != nil {
			t.Fatalf("re-creating an existing id should update it, got %v", err)
		}
	}
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 3 || tasks[0].ID != "TSK-1" || tasks[1].ID != "TSK-2" || tasks[2].ID != "TSK-3" {
		t.Fatalf("tasks should be listed in creation order: %+v", tasks)
	}
	if tasks[1].Title != "Task 2 revised" || tasks[1].Priority != "1" || tasks[1].Status != domain.TaskDoing {
		t.Fatalf("existing task not updated: %+v", tasks[1])
	}
	if !tasks[1].CreatedAt.Equal(base) {
		t.Fatalf("update should keep the original creation time, got %v", tasks[1].CreatedAt)
	}
	if tasks[0].Tag != "AI-Generated" || tasks[0].Status != domain.TaskTodo || !tasks[0].CreatedAt.Equal(base) {
		t.Fatalf("task fields not round-tripped: %+v", tasks[0])
	}
}

func testProjects(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.SaveProject(ctx, domain.SavedProject{Name: "nameless"}); !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p := domain.SavedProject{
		ID:            "project-flavorbase",
		Name:          "FlavorBase",
		WorkspacePath: "/work/flavorbase",
		Config:        domain.ProjectConfiguration{ProjectName: "FlavorBase", TechStack: []string{"Go"}},
		Messages:      []domain.Message{{Role: domain.RoleAssistant, Content: "hi"}},
		SavedAt:       base,
	}
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.SavedAt = base.Add(time.Hour)
	p.Messages = append(p.Messages, domain.Message{Role: domain.RoleUser, Content: "more"})
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Config.ProjectName != "FlavorBase" || len(got.Config.TechStack) != 1 || len(got.Messages) != 2 || !got.SavedAt.Equal(p.SavedAt) {
		t.Fatalf("unexpected project %+v", got)
	}
	list, _ := s.ListProjects(ctx)
	if len(list) != 1 || list[0].WorkspacePath != "/work/flavorbase" {
		t.Fatalf("save should replace, got %+v", list)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testProjectsPruned(t *testing.T, s storage.Store) {
	ctx := context.Background()
	total := storage.MaxSavedProjects + 2
	for i := 0; i < total; i++ {
		p := domain.SavedProject{ID: fmt.Sprintf("project-%02d", i), Name: fmt.Sprintf("P%d", i), SavedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveProject(ctx, p); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	list, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != storage.MaxSavedProjects {
		t.Fatalf("expected %d projects, got %d", storage.MaxSavedProjects, len(list))
	}
	if list[0].ID != fmt.Sprintf("project-%02d", total-1) {
		t.Fatalf("most recent first, got %s", list[0].ID)
	}
	if _, err := s.GetProject(ctx, "project-00"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("oldest project should be pruned, got %v", err)
	}
}

func testModelDefaults(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sel, err := s.GetModelDefaults(ctx)
	if err != nil || sel != (domain.ModelSelection{}) {
		t.Fatalf("unset defaults should be zero, got %+v %v", sel, err)
	}
	want := domain.ModelSelection{Provider: "google", Model: "gemini-2.5-flash", Language: "zh-TW"}
	if err := s.SaveModelDefaults(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveModelDefaults(ctx, want); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if got, _ := s.GetModelDefaults(ctx); got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
