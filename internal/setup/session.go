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
	"taskrails/internal/planning/llm"
)

var (
	// ErrTurnInFlight is returned when a message is sent while the previous
	// turn is still waiting for its reply.
	ErrTurnInFlight = errors.New("a reply is already pending for this session")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStaleReply is returned when the session was reset or restored while
	// the reply was outstanding. The reply is discarded.
	ErrStaleReply = errors.New("session changed while waiting for the reply")
	// ErrAgentNotFound is returned by agent edits with an unknown id.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidModel is returned for an unknown provider or language.
	ErrInvalidModel = errors.New("invalid model selection")
)

// ErrorMarker prefixes the assistant turn recorded for a failed completion.
const ErrorMarker = "❌ Error: "

// Completer issues one completion against a named provider and model.
// *llm.Router satisfies it.
type Completer interface {
	Complete(ctx context.Context, provider, model string, messages []llm.Message) (string, error)
}

// Publisher receives fire-and-forget change notifications.
type Publisher interface {
	Publish(ev domain.Event)
}

// Turn is the result of one user interaction.
type Turn struct {
	Reply domain.Message `json:"reply"`
	// Fields lists the configuration fields the reply populated.
	Fields []string `json:"fields"`
	// ProviderError is set when the completion failed and Reply carries the
	// inline error turn.
	ProviderError string `json:"provider_error,omitempty"`
}

// SessionOptions configures a new Session.
type SessionOptions struct {
	ID        string
	Model     domain.ModelSelection
	Workspace string
	Completer Completer
	Publisher Publisher
	Logger    observability.Logger
	Metrics   *observability.Metrics
}

// Session is one setup conversation: the message log, the configuration
// assembled from it and the model it talks to. It is safe for concurrent use;
// at most one completion is outstanding at a time.
type Session struct {
	mu         sync.Mutex
	id         string
	generation uint64
	inFlight   bool
	messages   []domain.Message
	config     domain.ProjectConfiguration
	model      domain.ModelSelection
	workspace  string

	completer Completer
	publisher Publisher
	logger    observability.Logger
	metrics   *observability.Metrics
}

// NewSession creates a session that starts with the greeting.
func NewSession(opts SessionOptions) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Model.Language == "" {
		opts.Model.Language = DefaultLanguage
	}
	if opts.Model.Provider != "" && opts.Model.Model == "" {
		opts.Model.Model = llm.DefaultModel(opts.Model.Provider)
	}
	return &Session{
		id:        opts.ID,
		messages:  []domain.Message{{Role: domain.RoleAssistant, Content: Greeting}},
		config:    domain.DefaultProjectConfiguration(),
		model:     opts.Model,
		workspace: opts.Workspace,
		completer: opts.Completer,
		publisher: opts.Publisher,
		logger:    observability.OrDiscard(opts.Logger).WithComponent("setup.session").With("session_id", opts.ID),
		metrics:   opts.Metrics,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Send appends a user turn, requests a completion and merges whatever the
// reply contains into the configuration. A provider failure is recorded as
// an assistant turn starting with ErrorMarker and is not returned as an error.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return Turn{}, ErrTurnInFlight
	}
	if s.completer == nil {
		s.mu.Unlock()
		return Turn{}, fmt.Errorf("session %s: no completer configured", s.id)
	}
	s.inFlight = true
	s.messages = append(s.messages, domain.Message{Role: domain.RoleUser, Content: text})
	gen := s.generation
	model := s.model
	prompt := toLLMMessages(BuildPrompt(model.Language, s.config, s.messages))
	s.mu.Unlock()

	ctx = observability.WithSessionID(ctx, s.id)
	start := time.Now()
	reply, err := s.completer.Complete(ctx, model.Provider, model.Model, prompt)
	s.metrics.RecordCompletion(model.Provider, time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.logger.InfoContext(ctx, "discarding reply for previous generation", "generation", gen)
		s.metrics.RecordChatTurn("stale")
		return Turn{}, ErrStaleReply
	}
	s.inFlight = false

	if err != nil {
		msg := domain.Message{Role: domain.RoleAssistant, Content: ErrorMarker + err.Error()}
		s.messages = append(s.messages, msg)
		s.logger.WarnContext(ctx, "completion failed", "provider", model.Provider, "model", model.Model, "error", err)
		s.metrics.RecordChatTurn("provider_error")
		return Turn{Reply: msg, Fields: []string{}, ProviderError: err.Error()}, nil
	}

	msg := domain.Message{Role: domain.RoleAssistant, Content: reply}
	s.messages = append(s.messages, msg)
	s.metrics.RecordChatTurn("ok")

	ex := ExtractDetailed(reply)
	fields := make([]string, 0, len(ex.Sources))
	for _, f := range allFields {
		if strategy, ok := ex.Sources[f]; ok {
			fields = append(fields, string(f))
			s.metrics.RecordExtraction(string(strategy))
		}
	}
	if !ex.Empty() {
		s.config = Merge(s.config, ex.Config)
		s.publish(domain.EventConfigChanged, fields)
	}
	s.logger.DebugContext(ctx, "turn merged", "fields", len(fields))
	return Turn{Reply: msg, Fields: fields}, nil
}

// Reset clears the log back to the greeting and the configuration back to
// defaults. A reply still outstanding is discarded when it arrives.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.inFlight = false
	s.messages = []domain.Message{{Role: domain.RoleAssistant, Content: Greeting}}
	s.config = domain.DefaultProjectConfiguration()
	s.logger.Info("session reset", "generation", s.generation)
}

// Apply merges a direct edit into the configuration using the same rule as
// extracted replies.
func (s *Session) Apply(partial domain.ProjectConfiguration) domain.ProjectConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = Merge(s.config, partial)
	s.publish(domain.EventConfigChanged, nil)
	return s.config.Clone()
}

// SetModel changes the provider, model and output language. An empty model
// selects the provider's default; an empty language keeps the current one.
func (s *Session) SetModel(sel domain.ModelSelection) (domain.ModelSelection, error) {
	if !llm.KnownProvider(sel.Provider) {
		return domain.ModelSelection{}, fmt.Errorf("%w: unknown provider %q", ErrInvalidModel, sel.Provider)
	}
	if sel.Language != "" && !IsSupportedLanguage(sel.Language) {
		return domain.ModelSelection{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidModel, sel.Language)
	}
	if sel.Model == "" {
		sel.Model = llm.DefaultModel(sel.Provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.Language == "" {
		sel.Language = s.model.Language
	}
	s.model = sel
	return sel, nil
}

// Model returns the current model selection.
func (s *Session) Model() domain.ModelSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetWorkspace records the workspace the project belongs to.
func (s *Session) SetWorkspace(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspace = strings.TrimSpace(path)
}

// Workspace returns the workspace documents are deployed to.
func (s *Session) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// AddAgent normalises a and appends it to the generated agents.
func (s *Session) AddAgent(a domain.Agent) domain.Agent {
	a = NormalizeAgent(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Agents = append(s.config.Agents, a)
	return a
}

// UpdateAgent replaces the agent with the given id. Blank fields in a keep
// their current values.
func (s *Session) UpdateAgent(id string, a domain.Agent) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.config.Agents {
		if cur.ID != id {
			continue
		}
		if strings.TrimSpace(a.Name) != "" {
			cur.Name = strings.TrimSpace(a.Name)
		}
		if strings.TrimSpace(a.Role) != "" {
			cur.Role = strings.TrimSpace(a.Role)
		}
		if len(a.Skills) > 0 {
			cur.Skills = cleanList(a.Skills)
		}
		if strings.TrimSpace(a.SystemPrompt) != "" {
			cur.SystemPrompt = strings.TrimSpace(a.SystemPrompt)
		}
		s.config.Agents[i] = cur
		return cur, nil
	}
	return domain.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
}

// RemoveAgent deletes the agent with the given id.
func (s *Session) RemoveAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.config.Agents {
		if cur.ID == id {
			s.config.Agents = append(s.config.Agents[:i:i], s.config.Agents[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
}

// Config returns a copy of the current configuration.
func (s *Session) Config() domain.ProjectConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// Snapshot returns a read-only copy of the session with a freshly computed
// completeness report.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := domain.SessionIdle
	if s.inFlight {
		state = domain.SessionAwaitingReply
	}
	return domain.SessionSnapshot{
		ID:            s.id,
		Generation:    s.generation,
		State:         state,
		Model:         s.model,
		WorkspacePath: s.workspace,
		Messages:      append([]domain.Message{}, s.messages...),
		Config:        s.config.Clone(),
		Completeness:  Evaluate(s.config),
	}
}

// Restore replaces the log and configuration with a saved project. Like
// Reset it invalidates any outstanding reply.
func (s *Session) Restore(p domain.SavedProject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.inFlight = false
	s.config = Merge(domain.DefaultProjectConfiguration(), p.Config)
	s.messages = append([]domain.Message{}, p.Messages...)
	if len(s.messages) == 0 {
		s.messages = []domain.Message{{Role: domain.RoleAssistant, Content: Greeting}}
	}
	s.workspace = p.WorkspacePath
	s.logger.Info("session restored", "project_id", p.ID, "messages", len(s.messages))
}

// AppendNote adds an assistant turn without contacting the provider. Used
// for the deployment summary.
func (s *Session) AppendNote(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, domain.Message{Role: domain.RoleAssistant, Content: content})
}

// publish must be called with s.mu held.
func (s *Session) publish(kind domain.EventKind, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.Event{
		Kind:      kind,
		Payload:   map[string]any{"session_id": s.id, "fields": payload},
		Timestamp: time.Now().UTC(),
	})
}

func toLLMMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
