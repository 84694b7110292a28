package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskrails/internal/domain"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
)

var (
	// ErrIncomplete matches *IncompleteError with errors.Is.
	ErrIncomplete = errors.New("configuration is incomplete")
	// ErrDeployInFlight is returned when the same project is already being deployed.
	ErrDeployInFlight = errors.New("deployment already in progress for this project")
	errSinkMissing    = errors.New("sink not configured")
)

// IncompleteError rejects a deployment of a configuration that still misses
// required fields. Nothing has been written when it is returned.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("configuration is incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrIncomplete) hold.
func (e *IncompleteError) Is(target error) bool { return target == ErrIncomplete }

// BacklogTag marks backlog items created by a deployment.
const BacklogTag = "AI-Generated"

// DefaultTaskPriority is used for generated tasks without a priority.
const DefaultTaskPriority = "3"

// Sinks are the four deployment targets. A nil sink is reported as failed.
type Sinks struct {
	Spec      storage.SpecStore
	Documents storage.DocumentStore
	Roster    storage.RosterStore
	Tasks     storage.TaskStore
	// WorkspaceDocuments, when set, opens the document store of a session's
	// workspace. Documents is used for deployments without a workspace.
	WorkspaceDocuments func(workspace string) storage.DocumentStore
}

func (s Sinks) documentsFor(workspace string) storage.DocumentStore {
	if workspace = strings.TrimSpace(workspace); workspace != "" && s.WorkspaceDocuments != nil {
		return s.WorkspaceDocuments(workspace)
	}
	return s.Documents
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Sinks     Sinks
	Publisher Publisher
	Logger    observability.Logger
	Metrics   *observability.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator writes a complete configuration to every sink, isolating
// failures per sink. Deployments of the same project never overlap.
type Coordinator struct {
	sinks     Sinks
	publisher Publisher
	logger    observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// NewCoordinator creates a deployment coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		sinks:     opts.Sinks,
		publisher: opts.Publisher,
		logger:    observability.OrDiscard(opts.Logger).WithComponent("setup.deploy"),
		metrics:   opts.Metrics,
		now:       opts.Now,
		active:    make(map[string]struct{}),
	}
}

// Deploy writes cfg to the spec store, the documents, the roster and the
// backlog, in that order. Each sink is attempted even when an earlier one
// failed. The returned error is non-nil only when nothing was attempted.
func (c *Coordinator) Deploy(ctx context.Context, cfg domain.ProjectConfiguration) (domain.DeploymentReport, error) {
	return c.DeployToWorkspace(ctx, cfg, "")
}

// DeployToWorkspace is Deploy with the documents written to the memory bank
// of workspace.
func (c *Coordinator) DeployToWorkspace(ctx context.Context, cfg domain.ProjectConfiguration, workspace string) (domain.DeploymentReport, error) {
	if report := Evaluate(cfg); !report.IsComplete {
		return domain.DeploymentReport{}, &IncompleteError{Missing: report.MissingRequired}
	}

	projectID := ProjectID(cfg.ProjectName)
	if !c.acquire(projectID) {
		return domain.DeploymentReport{}, fmt.Errorf("%w: %s", ErrDeployInFlight, projectID)
	}
	defer c.release(projectID)

	cfg = cfg.Clone()
	started := c.now()
	report := domain.DeploymentReport{ProjectID: projectID, StartedAt: started.UTC()}
	report.Results = []domain.SinkResult{
		c.record(ctx, domain.SinkSpec, c.writeSpec(ctx, cfg, started)),
		c.record(ctx, domain.SinkDocuments, c.writeDocuments(ctx, c.sinks.documentsFor(workspace), cfg)),
		c.record(ctx, domain.SinkRoster, c.writeRoster(ctx, cfg, started)),
		c.record(ctx, domain.SinkTasks, c.writeTasks(ctx, cfg, started)),
	}
	report.FinishedAt = c.now().UTC()

	if report.Succeeded() {
		c.logger.InfoContext(ctx, "deployment finished", "project_id", projectID)
	} else {
		c.logger.WarnContext(ctx, "deployment partially failed", "project_id", projectID, "summary", report.Summary())
	}
	return report, nil
}

func (c *Coordinator) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[id]; busy {
		return false
	}
	c.active[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

func (c *Coordinator) record(ctx context.Context, sink domain.Sink, res domain.SinkResult) domain.SinkResult {
	res.Sink = sink
	c.metrics.RecordDeploySink(string(sink), res.OK)
	if !res.OK {
		c.logger.ErrorContext(ctx, "sink write failed", "sink", sink, "error", res.Error)
	}
	return res
}

func failed(err error, count int) domain.SinkResult {
	return domain.SinkResult{OK: false, Count: count, Error: err.Error()}
}

func (c *Coordinator) writeSpec(ctx context.Context, cfg domain.ProjectConfiguration, now time.Time) domain.SinkResult {
	if c.sinks.Spec == nil {
		return failed(errSinkMissing, 0)
	}
	rec := RenderSpec(cfg, now)
	if err := c.sinks.Spec.PutSpec(ctx, rec); err != nil {
		return failed(err, 0)
	}
	c.publish(domain.EventSpecUpdated, rec)
	return domain.SinkResult{OK: true, Count: 1}
}

// writeDocuments attempts every document; the sink fails if any one does.
func (c *Coordinator) writeDocuments(ctx context.Context, docs storage.DocumentStore, cfg domain.ProjectConfiguration) domain.SinkResult {
	if docs == nil {
		return failed(errSinkMissing, 0)
	}
	var errs []string
	written := 0
	for _, doc := range RenderDocuments(cfg) {
		if err := docs.PutDocument(ctx, doc.Name, doc.Content); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", doc.Name, err))
			continue
		}
		written++
	}
	if len(errs) > 0 {
		return domain.SinkResult{Count: written, Error: strings.Join(errs, "; ")}
	}
	return domain.SinkResult{OK: true, Count: written}
}

func (c *Coordinator) writeRoster(ctx context.Context, cfg domain.ProjectConfiguration, now time.Time) domain.SinkResult {
	if c.sinks.Roster == nil {
		return failed(errSinkMissing, 0)
	}
	coll := RenderRoster(cfg, now)
	if err := c.sinks.Roster.UpsertCollection(ctx, coll); err != nil {
		return failed(err, 0)
	}
	c.publish(domain.EventRosterUpdated, coll)
	return domain.SinkResult{OK: true, Count: len(coll.Agents)}
}

// writeTasks creates one backlog item per generated task.
func (c *Coordinator) writeTasks(ctx context.Context, cfg domain.ProjectConfiguration, now time.Time) domain.SinkResult {
	if c.sinks.Tasks == nil {
		return failed(errSinkMissing, 0)
	}
	var errs []string
	created := make([]string, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		item := BacklogItemFor(t, now)
		if err := c.sinks.Tasks.CreateTask(ctx, item); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", item.ID, err))
			continue
		}
		created = append(created, item.ID)
	}
	if len(created) > 0 {
		c.publish(domain.EventTasksCreated, created)
	}
	if len(errs) > 0 {
		return domain.SinkResult{Count: len(created), Error: strings.Join(errs, "; ")}
	}
	return domain.SinkResult{OK: true, Count: len(created)}
}

// BacklogItemFor converts a generated task into a backlog item, filling a
// fresh id, the default priority and the todo status where missing.
func BacklogItemFor(t domain.Task, now time.Time) domain.BacklogItem {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("TSK-%d-%s", now.UnixMilli(), uuid.NewString()[:4])
	}
	if strings.TrimSpace(t.Priority) == "" {
		t.Priority = DefaultTaskPriority
	}
	if !domain.IsValidTaskStatus(t.Status) {
		t.Status = domain.TaskTodo
	}
	return domain.BacklogItem{Task: t, Tag: BacklogTag, CreatedAt: now.UTC()}
}

func (c *Coordinator) publish(kind domain.EventKind, payload any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(domain.Event{Kind: kind, Payload: payload, Timestamp: c.now().UTC()})
}

// DeploymentNote is the assistant turn appended to the transcript after a
// deployment.
func DeploymentNote(cfg domain.ProjectConfiguration, report domain.DeploymentReport) string {
	if !report.Succeeded() {
		return "❌ Deployment finished with errors: " + report.Summary()
	}
	return fmt.Sprintf("✅ **Project configuration deployed.**\n\n"+
		"- Spec: project specification updated\n"+
		"- Agents: %d agents in the roster\n"+
		"- Diagrams: %d diagrams generated\n"+
		"- Tasks: %d tasks added to the backlog\n\n%s",
		len(cfg.Agents), len(cfg.Diagrams), len(cfg.Tasks), report.Summary())
}
