package setup

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

func newSinks() (*storage.MemoryStore, *storage.MemoryDocumentStore) {
	return storage.NewMemoryStore(), storage.NewMemoryDocumentStore()
}

// countingStore counts every sink call so tests can assert nothing was touched.
type countingStore struct {
	*storage.MemoryStore
	calls atomic.Int64
}

func (c *countingStore) PutSpec(ctx context.Context, rec domain.SpecRecord) error {
	c.calls.Add(1)
	return c.MemoryStore.PutSpec(ctx, rec)
}

func (c *countingStore) UpsertCollection(ctx context.Context, coll domain.AgentCollection) error {
	c.calls.Add(1)
	return c.MemoryStore.UpsertCollection(ctx, coll)
}

func (c *countingStore) CreateTask(ctx context.Context, item domain.BacklogItem) error {
	c.calls.Add(1)
	return c.MemoryStore.CreateTask(ctx, item)
}

type failingDocuments struct {
	storage.DocumentStore
	calls atomic.Int64
}

func (f *failingDocuments) PutDocument(context.Context, string, string) error {
	f.calls.Add(1)
	return &storage.Error{Op: "put document", Err: errors.New("disk full")}
}

// blockingSpec holds PutSpec until release is closed.
type blockingSpec struct {
	storage.SpecStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSpec) PutSpec(ctx context.Context, rec domain.SpecRecord) error {
	b.entered <- struct{}{}
	<-b.release
	return b.SpecStore.PutSpec(ctx, rec)
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func configWithTasks() domain.ProjectConfiguration {
	cfg := completeConfig()
	cfg.Agents = []domain.Agent{
		NormalizeAgent(domain.Agent{Name: "Ada", Role: "PM"}),
		NormalizeAgent(domain.Agent{Name: "Lin", Role: "Architect"}),
	}
	cfg.Diagrams = []domain.Diagram{{ID: "diagram-1", Name: "Flow", Type: domain.DiagramFlowchart, Code: "graph TD; A-->B"}}
	cfg.Tasks = []domain.Task{
		{Title: "Set up repo"},
		{ID: "T-2", Title: "Design schema", Priority: "1", Status: domain.TaskDoing},
		{Title: "Build search", Status: "weird"},
	}
	return cfg
}

func TestDeployRejectsIncompleteWithoutSideEffects(t *testing.T) {
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	docs := &failingDocuments{}
	coord := NewCoordinator(CoordinatorOptions{Sinks: Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store}})

	cfg := completeConfig()
	cfg.EngineeringRules = ""
	_, err := coord.Deploy(context.Background(), cfg)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	var ie *IncompleteError
	if !errors.As(err, &ie) || len(ie.Missing) != 1 || ie.Missing[0] != "Engineering Rules" {
		t.Fatalf("unexpected error detail %v", err)
	}
	if store.calls.Load() != 0 || docs.calls.Load() != 0 {
		t.Fatal("no sink may be touched for an incomplete configuration")
	}
}

func TestDeployIsolatesFailingSink(t *testing.T) {
	store := storage.NewMemoryStore()
	docs := &failingDocuments{}
	pub := &recordingPublisher{}
	coord := NewCoordinator(CoordinatorOptions{
		Sinks:     Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store},
		Publisher: pub,
		Now:       fixedNow,
	})

	report, err := coord.Deploy(context.Background(), configWithTasks())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if report.Succeeded() {
		t.Fatal("report must show the failing sink")
	}

	wantOrder := []domain.Sink{domain.SinkSpec, domain.SinkDocuments, domain.SinkRoster, domain.SinkTasks}
	for i, res := range report.Results {
		if res.Sink != wantOrder[i] {
			t.Fatalf("result %d is %s, want %s", i, res.Sink, wantOrder[i])
		}
	}
	docRes, _ := report.Result(domain.SinkDocuments)
	if docRes.OK || !strings.Contains(docRes.Error, "disk full") {
		t.Fatalf("documents should fail: %+v", docRes)
	}
	if docs.calls.Load() != 4 {
		t.Fatalf("every document should be attempted, got %d", docs.calls.Load())
	}
	if strings.Contains(docRes.Error, "\n") || strings.Count(docRes.Error, "; ") != 3 {
		t.Fatalf("per-document errors should be joined on one line: %q", docRes.Error)
	}
	if sum := report.Summary(); strings.Contains(sum, "\n") || !strings.HasPrefix(sum, "Spec: ok, Documents: failed: ") {
		t.Fatalf("summary should stay on one line, got %q", sum)
	}
	taskRes, _ := report.Result(domain.SinkTasks)
	if !taskRes.OK || taskRes.Count != 3 {
		t.Fatalf("tasks should succeed with 3 items: %+v", taskRes)
	}

	summary := report.Summary()
	if !strings.HasPrefix(summary, "Spec: ok, Documents: failed: ") || !strings.HasSuffix(summary, "Roster: ok, Tasks: ok (3)") {
		t.Fatalf("unexpected summary %q", summary)
	}

	tasks, _ := store.ListTasks(context.Background())
	if len(tasks) != 3 {
		t.Fatalf("expected 3 backlog items, got %d", len(tasks))
	}
	for _, item := range tasks {
		if item.ID == "" || item.Tag != BacklogTag || !domain.IsValidTaskStatus(item.Status) {
			t.Fatalf("unexpected backlog item %+v", item)
		}
	}
	if _, err := store.GetSpec(context.Background(), SpecID); err != nil {
		t.Fatalf("spec should be written: %v", err)
	}

	kinds := pub.kinds()
	want := []domain.EventKind{domain.EventSpecUpdated, domain.EventRosterUpdated, domain.EventTasksCreated}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestDeployRosterUpsert(t *testing.T) {
	ctx := context.Background()
	store, docs := newSinks()
	coord := NewCoordinator(CoordinatorOptions{Sinks: Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store}})

	if err := store.UpsertCollection(ctx, domain.AgentCollection{ProjectID: "project-other", ProjectName: "Other"}); err != nil {
		t.Fatal(err)
	}
	cfg := configWithTasks()
	cfg.Tasks = nil
	if _, err := coord.Deploy(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	roster, _ := store.ListCollections(ctx)
	if len(roster) != 2 || roster[0].ProjectID != "project-flavorbase" || len(roster[0].Agents) != 2 {
		t.Fatalf("new collection should be inserted at head: %+v", roster)
	}

	cfg.Agents = cfg.Agents[:1]
	if _, err := coord.Deploy(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	roster, _ = store.ListCollections(ctx)
	if len(roster) != 2 || roster[0].ProjectID != "project-flavorbase" || len(roster[0].Agents) != 1 {
		t.Fatalf("existing collection should be replaced in place: %+v", roster)
	}
}

func TestDeployRejectsConcurrentDeployOfSameProject(t *testing.T) {
	store, docs := newSinks()
	spec := &blockingSpec{SpecStore: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	coord := NewCoordinator(CoordinatorOptions{Sinks: Sinks{Spec: spec, Documents: docs, Roster: store, Tasks: store}})

	done := make(chan error, 1)
	go func() {
		_, err := coord.Deploy(context.Background(), completeConfig())
		done <- err
	}()
	<-spec.entered

	if _, err := coord.Deploy(context.Background(), completeConfig()); !errors.Is(err, ErrDeployInFlight) {
		t.Fatalf("expected ErrDeployInFlight, got %v", err)
	}
	other := completeConfig()
	other.ProjectName = "Another"
	close(spec.release)

	if err := <-done; err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if _, err := coord.Deploy(context.Background(), other); err != nil {
		t.Fatalf("other project should deploy: %v", err)
	}
}

func TestDeployMissingSinkIsReported(t *testing.T) {
	store, _ := newSinks()
	coord := NewCoordinator(CoordinatorOptions{Sinks: Sinks{Spec: store, Roster: store, Tasks: store}})
	report, err := coord.Deploy(context.Background(), completeConfig())
	if err != nil {
		t.Fatal(err)
	}
	res, _ := report.Result(domain.SinkDocuments)
	if res.OK || res.Error != "sink not configured" {
		t.Fatalf("unexpected documents result %+v", res)
	}
}

func TestBacklogItemFor(t *testing.T) {
	now := fixedNow()
	item := BacklogItemFor(domain.Task{Title: "x"}, now)
	if !strings.HasPrefix(item.ID, "TSK-") || item.Priority != DefaultTaskPriority || item.Status != domain.TaskTodo {
		t.Fatalf("defaults not applied: %+v", item)
	}
	if !item.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v", item.CreatedAt)
	}
	kept := BacklogItemFor(domain.Task{ID: "T-1", Title: "y", Priority: "5", Status: domain.TaskDone}, now)
	if kept.ID != "T-1" || kept.Priority != "5" || kept.Status != domain.TaskDone {
		t.Fatalf("given values must be kept: %+v", kept)
	}
}

func TestRenderSpecAndDocuments(t *testing.T) {
	cfg := configWithTasks()
	rec := RenderSpec(cfg, fixedNow())
	if rec.ID != SpecID || rec.TechStack != "React\nNode" || rec.Features != "1. Search\n2. Bookmarking" {
		t.Fatalf("unexpected spec record %+v", rec)
	}

	docs := RenderDocuments(cfg)
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Name
	}
	if strings.Join(names, ",") != "specs,tech-stack,architecture,planner-diagrams" {
		t.Fatalf("unexpected documents %v", names)
	}
	if !strings.HasPrefix(docs[0].Content, "# FlavorBase Specs\n") || !strings.Contains(docs[1].Content, "- React\n- Node\n") {
		t.Fatalf("unexpected content:\n%s\n%s", docs[0].Content, docs[1].Content)
	}
	if !strings.Contains(docs[3].Content, "```mermaid\ngraph TD; A-->B\n```") {
		t.Fatalf("diagram not rendered: %s", docs[3].Content)
	}
	again := RenderDocuments(cfg)
	for i := range docs {
		if docs[i] != again[i] {
			t.Fatal("documents must be deterministic")
		}
	}

	cfg.Diagrams = nil
	if len(RenderDocuments(cfg)) != 3 {
		t.Fatal("no diagrams document without diagrams")
	}
}

func TestSlugifyAndProjectID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"FlavorBase", "project-flavorbase"},
		{"  My Cool  App! ", "project-my-cool-app"},
		{"味覺 庫", "project-味覺-庫"},
		{"***", "project-untitled"},
	}
	for _, tt := range tests {
		if got := ProjectID(tt.in); got != tt.want {
			t.Errorf("ProjectID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeploymentNote(t *testing.T) {
	cfg := configWithTasks()
	ok := domain.DeploymentReport{Results: []domain.SinkResult{{Sink: domain.SinkSpec, OK: true}}}
	if note := DeploymentNote(cfg, ok); !strings.Contains(note, "3 tasks") || !strings.HasPrefix(note, "✅") {
		t.Fatalf("unexpected note %q", note)
	}
	bad := domain.DeploymentReport{Results: []domain.SinkResult{{Sink: domain.SinkDocuments, Error: "boom"}}}
	if note := DeploymentNote(cfg, bad); !strings.Contains(note, "Documents: failed: boom") {
		t.Fatalf("unexpected note %q", note)
	}
}

func TestRedeployUpdatesExistingTasks(t *testing.T) {
	store, docs := newSinks()
	coord := NewCoordinator(CoordinatorOptions{
		Sinks: Sinks{Spec: store, Documents: docs, Roster: store, Tasks: store},
		Now:   fixedNow,
	})
	cfg := completeConfig()
	cfg.Tasks = []domain.Task{{ID: "T-1", Title: "Set up repo"}, {ID: "T-2", Title: "Design schema"}}
	ctx := context.Background()

	for i := range 2 {
		if i == 1 {
			cfg.Tasks[1].Status = domain.TaskDone
		}
		report, err := coord.Deploy(ctx, cfg)
		if err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
		res, _ := report.Result(domain.SinkTasks)
		if !res.OK || res.Count != 2 {
			t.Fatalf("deploy %d: tasks sink %+v", i, res)
		}
	}
	tasks, _ := store.ListTasks(ctx)
	if len(tasks) != 2 || tasks[1].ID != "T-2" || tasks[1].Status != domain.TaskDone {
		t.Fatalf("redeploy should update tasks in place: %+v", tasks)
	}
}

func TestDeployToWorkspaceUsesWorkspaceDocuments(t *testing.T) {
	store, shared := newSinks()
	opened := map[string]*storage.MemoryDocumentStore{}
	coord := NewCoordinator(CoordinatorOptions{
		Sinks: Sinks{
			Spec: store, Documents: shared, Roster: store, Tasks: store,
			WorkspaceDocuments: func(ws string) storage.DocumentStore {
				d := storage.NewMemoryDocumentStore()
				opened[ws] = d
				return d
			},
		},
	})
	ctx := context.Background()

	if _, err := coord.DeployToWorkspace(ctx, completeConfig(), "/work/flavorbase"); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	ws, ok := opened["/work/flavorbase"]
	if !ok {
		t.Fatalf("workspace store not opened: %v", opened)
	}
	if _, err := ws.GetDocument(ctx, "specs"); err != nil {
		t.Fatalf("specs should be in the workspace store: %v", err)
	}
	if names, _ := shared.ListDocuments(ctx); len(names) != 0 {
		t.Fatalf("shared store should be untouched, got %v", names)
	}

	if _, err := coord.DeployToWorkspace(ctx, completeConfig(), "  "); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := shared.GetDocument(ctx, "specs"); err != nil {
		t.Fatalf("blank workspace should fall back to the shared store: %v", err)
	}
}
