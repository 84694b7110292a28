package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskrails/internal/domain"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionCacheSize bounds the number of live sessions.
const DefaultSessionCacheSize = 256

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// CacheSize is the number of live sessions kept; the least recently
	// used session is dropped beyond it.
	CacheSize   int
	Completer   Completer
	Coordinator *Coordinator
	Projects    storage.ProjectStore
	Settings    storage.SettingsStore
	Publisher   Publisher
	// DefaultModel is used when no defaults were saved yet.
	DefaultModel domain.ModelSelection
	Workspace    string
	Logger       observability.Logger
	Metrics      *observability.Metrics
}

// Registry owns the live sessions and ties them to deployment and saved
// projects.
type Registry struct {
	sessions *lru.Cache[string, *Session]
	opts     RegistryOptions
	logger   observability.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultSessionCacheSize
	}
	cache, err := lru.New[string, *Session](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Registry{
		sessions: cache,
		opts:     opts,
		logger:   observability.OrDiscard(opts.Logger).WithComponent("setup.registry"),
	}, nil
}

// Create starts a new session using the saved default model selection.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	s := NewSession(SessionOptions{
		Model:     r.defaultModel(ctx),
		Workspace: r.opts.Workspace,
		Completer: r.opts.Completer,
		Publisher: r.opts.Publisher,
		Logger:    r.opts.Logger,
		Metrics:   r.opts.Metrics,
	})
	r.sessions.Add(s.ID(), s)
	r.logger.InfoContext(ctx, "session created", "session_id", s.ID(), "provider", s.Model().Provider)
	return s, nil
}

func (r *Registry) defaultModel(ctx context.Context) domain.ModelSelection {
	sel := r.opts.DefaultModel
	if r.opts.Settings == nil {
		return sel
	}
	saved, err := r.opts.Settings.GetModelDefaults(ctx)
	switch {
	case err == nil:
		if saved.Provider != "" {
			sel.Provider, sel.Model = saved.Provider, saved.Model
		}
		if saved.Language != "" {
			sel.Language = saved.Language
		}
	case !errors.Is(err, storage.ErrNotFound):
		r.logger.WarnContext(ctx, "failed to read model defaults", "error", err)
	}
	return sel
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close drops a live session.
func (r *Registry) Close(id string) bool {
	return r.sessions.Remove(id)
}

// Len is the number of live sessions.
func (r *Registry) Len() int { return r.sessions.Len() }

// SetModel changes a session's model and stores it as the default for new
// sessions.
func (r *Registry) SetModel(ctx context.Context, id string, sel domain.ModelSelection) (domain.ModelSelection, error) {
	s, err := r.Get(id)
	if err != nil {
		return domain.ModelSelection{}, err
	}
	applied, err := s.SetModel(sel)
	if err != nil {
		return domain.ModelSelection{}, err
	}
	if r.opts.Settings != nil {
		if err := r.opts.Settings.SaveModelDefaults(ctx, applied); err != nil {
			r.logger.WarnContext(ctx, "failed to save model defaults", "error", err)
		}
	}
	return applied, nil
}

// Deploy deploys the session's configuration and appends the outcome to its
// transcript.
func (r *Registry) Deploy(ctx context.Context, id string) (domain.DeploymentReport, error) {
	s, err := r.Get(id)
	if err != nil {
		return domain.DeploymentReport{}, err
	}
	if r.opts.Coordinator == nil {
		return domain.DeploymentReport{}, errors.New("deployment is not configured")
	}
	cfg := s.Config()
	report, err := r.opts.Coordinator.DeployToWorkspace(observability.WithSessionID(ctx, id), cfg, s.Workspace())
	if err != nil {
		return domain.DeploymentReport{}, err
	}
	s.AppendNote(DeploymentNote(cfg, report))
	return report, nil
}

// Save persists the session as a saved project keyed by its project id.
func (r *Registry) Save(ctx context.Context, id string) (domain.SavedProject, error) {
	s, err := r.Get(id)
	if err != nil {
		return domain.SavedProject{}, err
	}
	if r.opts.Projects == nil {
		return domain.SavedProject{}, errors.New("project storage is not configured")
	}
	snap := s.Snapshot()
	name := strings.TrimSpace(snap.Config.ProjectName)
	if name == "" {
		name = "Untitled Project"
	}
	p := domain.SavedProject{
		ID:            ProjectID(snap.Config.ProjectName),
		Name:          name,
		WorkspacePath: snap.WorkspacePath,
		Config:        snap.Config,
		Messages:      snap.Messages,
		SavedAt:       time.Now().UTC(),
	}
	if err := r.opts.Projects.SaveProject(ctx, p); err != nil {
		return domain.SavedProject{}, fmt.Errorf("save project: %w", err)
	}
	r.logger.InfoContext(ctx, "project saved", "project_id", p.ID, "session_id", id)
	return p, nil
}

// Load restores a saved project into a new live session.
func (r *Registry) Load(ctx context.Context, projectID string) (*Session, error) {
	if r.opts.Projects == nil {
		return nil, errors.New("project storage is not configured")
	}
	p, err := r.opts.Projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	s, err := r.Create(ctx)
	if err != nil {
		return nil, err
	}
	s.Restore(p)
	return s, nil
}

// ListProjects returns saved projects, most recent first.
func (r *Registry) ListProjects(ctx context.Context) ([]domain.SavedProjectSummary, error) {
	if r.opts.Projects == nil {
		return []domain.SavedProjectSummary{}, nil
	}
	return r.opts.Projects.ListProjects(ctx)
}

// GetProject returns a saved project without loading it into a session.
func (r *Registry) GetProject(ctx context.Context, projectID string) (domain.SavedProject, error) {
	if r.opts.Projects == nil {
		return domain.SavedProject{}, errors.New("project storage is not configured")
	}
	return r.opts.Projects.GetProject(ctx, projectID)
}

// DeleteProject removes a saved project.
func (r *Registry) DeleteProject(ctx context.Context, projectID string) error {
	if r.opts.Projects == nil {
		return errors.New("project storage is not configured")
	}
	return r.opts.Projects.DeleteProject(ctx, projectID)
}
