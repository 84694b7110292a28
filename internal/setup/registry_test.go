package setup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskrails/internal/domain"
	"taskrails/internal/planning/llm"
	"taskrails/internal/storage"
)

func newTestRegistry(t *testing.T, c Completer, size int) (*Registry, *storage.MemoryStore) {
	t.Helper()
	store, docs := newSinks()
	r, err := NewRegistry(RegistryOptions{
		CacheSize: size,
		Completer: c,
		Coordinator: NewCoordinator(CoordinatorOptions{
			Sinks: Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store},
		}),
		Projects:     store,
		Settings:     store,
		DefaultModel: domain.ModelSelection{Provider: llm.ProviderOpenAI, Language: "en-US"},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r, store
}

func TestRegistryCreateGetEvict(t *testing.T) {
	r, _ := newTestRegistry(t, &scriptedCompleter{}, 2)
	ctx := context.Background()

	a, _ := r.Create(ctx)
	b, _ := r.Create(ctx)
	if got, err := r.Get(a.ID()); err != nil || got != a {
		t.Fatalf("get: %v", err)
	}
	c, _ := r.Create(ctx)

	if _, err := r.Get(b.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("least recently used session should be evicted, got %v", err)
	}
	if _, err := r.Get(c.ID()); err != nil {
		t.Fatalf("newest session should be live: %v", err)
	}
	if !r.Close(a.ID()) || r.Len() != 1 {
		t.Fatalf("close should drop the session, len=%d", r.Len())
	}
}

func TestRegistryModelDefaultsPersist(t *testing.T) {
	r, store := newTestRegistry(t, &scriptedCompleter{}, 0)
	ctx := context.Background()

	s, _ := r.Create(ctx)
	if s.Model().Provider != llm.ProviderOpenAI {
		t.Fatalf("expected configured default provider, got %+v", s.Model())
	}
	if _, err := r.SetModel(ctx, s.ID(), domain.ModelSelection{Provider: llm.ProviderGoogle, Language: "de-DE"}); err != nil {
		t.Fatalf("set model: %v", err)
	}
	saved, _ := store.GetModelDefaults(ctx)
	if saved.Provider != llm.ProviderGoogle || saved.Language != "de-DE" {
		t.Fatalf("defaults not saved: %+v", saved)
	}

	next, _ := r.Create(ctx)
	if next.Model().Provider != llm.ProviderGoogle || next.Model().Language != "de-DE" {
		t.Fatalf("new session should use saved defaults: %+v", next.Model())
	}
	if _, err := r.SetModel(ctx, "missing", domain.ModelSelection{Provider: llm.ProviderGoogle}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryDeployAppendsSummary(t *testing.T) {
	r, store := newTestRegistry(t, &scriptedCompleter{replies: []string{flavorBaseReply}}, 0)
	ctx := context.Background()
	s, _ := r.Create(ctx)

	if _, err := r.Deploy(ctx, s.ID()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if _, err := s.Send(ctx, "FlavorBase please"); err != nil {
		t.Fatal(err)
	}
	report, err := r.Deploy(ctx, s.ID())
	if err != nil || !report.Succeeded() {
		t.Fatalf("deploy: %+v %v", report, err)
	}
	msgs := s.Snapshot().Messages
	if last := msgs[len(msgs)-1]; !strings.Contains(last.Content, "Spec: ok") {
		t.Fatalf("summary not appended: %q", last.Content)
	}
	if rec, err := store.GetSpec(ctx, SpecID); err != nil || rec.Name != "FlavorBase" {
		t.Fatalf("spec not written: %+v %v", rec, err)
	}
}

func TestRegistryDeployWritesSessionMemoryBank(t *testing.T) {
	base, other := t.TempDir(), t.TempDir()
	store := storage.NewMemoryStore()
	r, err := NewRegistry(RegistryOptions{
		Completer: &scriptedCompleter{replies: []string{flavorBaseReply}},
		Coordinator: NewCoordinator(CoordinatorOptions{
			Sinks: Sinks{
				Spec:      store,
				Documents: storage.NewFileDocumentStore(base),
				Roster:    store,
				Tasks:     store,
				WorkspaceDocuments: func(ws string) storage.DocumentStore {
					return storage.NewFileDocumentStore(ws)
				},
			},
		}),
		Projects:     store,
		Settings:     store,
		DefaultModel: domain.ModelSelection{Provider: llm.ProviderOpenAI, Language: "en-US"},
		Workspace:    base,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()
	s, _ := r.Create(ctx)
	s.SetWorkspace(other)
	if _, err := s.Send(ctx, "FlavorBase please"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Deploy(ctx, s.ID()); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if _, err := os.Stat(filepath.Join(other, ".taskrails", "memory-bank", "@specs.md")); err != nil {
		t.Fatalf("specs not written to the session workspace: %v", err)
	}
	if _, err := storage.NewFileDocumentStore(base).GetDocument(ctx, "specs"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("default workspace should be untouched, got %v", err)
	}
}

func TestRegistrySaveLoadDeleteProjects(t *testing.T) {
	r, _ := newTestRegistry(t, &scriptedCompleter{replies: []string{flavorBaseReply}}, 0)
	ctx := context.Background()
	s, _ := r.Create(ctx)
	s.SetWorkspace("/work/flavorbase")
	if _, err := s.Send(ctx, "FlavorBase please"); err != nil {
		t.Fatal(err)
	}

	p, err := r.Save(ctx, s.ID())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.ID != "project-flavorbase" || p.Name != "FlavorBase" || len(p.Messages) != 3 {
		t.Fatalf("unexpected saved project %+v", p)
	}

	list, _ := r.ListProjects(ctx)
	if len(list) != 1 || list[0].WorkspacePath != "/work/flavorbase" {
		t.Fatalf("unexpected list %+v", list)
	}

	loaded, err := r.Load(ctx, p.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID() == s.ID() {
		t.Fatal("load should create a new session")
	}
	snap := loaded.Snapshot()
	if !snap.Completeness.IsComplete || len(snap.Messages) != 3 || snap.WorkspacePath != "/work/flavorbase" {
		t.Fatalf("unexpected loaded session %+v", snap)
	}

	if err := r.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Load(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
