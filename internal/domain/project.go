package domain

import (
	"strings"
	"time"
)

// ProjectConfiguration is the structured project description assembled from a
// setup conversation. Empty strings and empty slices mean "not provided".
type ProjectConfiguration struct {
	ProjectName      string    `json:"project_name"`
	ProjectGoal      string    `json:"project_goal"`
	TechStack        []string  `json:"tech_stack"`
	Features         []string  `json:"features"`
	DataStructure    string    `json:"data_structure,omitempty"`
	DesignSpec       string    `json:"design_spec,omitempty"`
	EngineeringRules string    `json:"engineering_rules,omitempty"`
	Agents           []Agent   `json:"generated_agents"`
	Diagrams         []Diagram `json:"generated_diagrams"`
	Tasks            []Task    `json:"generated_tasks"`
}

// DefaultProjectConfiguration returns an empty configuration with non-nil slices.
func DefaultProjectConfiguration() ProjectConfiguration {
	return ProjectConfiguration{
		TechStack: []string{},
		Features:  []string{},
		Agents:    []Agent{},
		Diagrams:  []Diagram{},
		Tasks:     []Task{},
	}
}

// IsEmpty reports whether no field carries a value. An empty partial
// configuration is the normal result of a clarifying assistant turn.
func (c ProjectConfiguration) IsEmpty() bool {
	return strings.TrimSpace(c.ProjectName) == "" &&
		strings.TrimSpace(c.ProjectGoal) == "" &&
		len(c.TechStack) == 0 &&
		len(c.Features) == 0 &&
		strings.TrimSpace(c.DataStructure) == "" &&
		strings.TrimSpace(c.DesignSpec) == "" &&
		strings.TrimSpace(c.EngineeringRules) == "" &&
		len(c.Agents) == 0 &&
		len(c.Diagrams) == 0 &&
		len(c.Tasks) == 0
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (c ProjectConfiguration) Clone() ProjectConfiguration {
	out := c
	out.TechStack = append([]string{}, c.TechStack...)
	out.Features = append([]string{}, c.Features...)
	out.Agents = make([]Agent, len(c.Agents))
	for i, a := range c.Agents {
		a.Skills = append([]string{}, a.Skills...)
		out.Agents[i] = a
	}
	out.Diagrams = append([]Diagram{}, c.Diagrams...)
	out.Tasks = append([]Task{}, c.Tasks...)
	return out
}

// Agent is a generated team member with its own system prompt.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Skills       []string `json:"skills"`
	SystemPrompt string   `json:"system_prompt"`
}

// DiagramType enumerates the supported diagram kinds.
type DiagramType string

const (
	DiagramFlowchart DiagramType = "flowchart"
	DiagramSequence  DiagramType = "sequence"
	DiagramClass     DiagramType = "class"
	DiagramER        DiagramType = "er"
	DiagramState     DiagramType = "state"
	DiagramGantt     DiagramType = "gantt"
)

// IsValidDiagramType checks if the given diagram type is supported.
func IsValidDiagramType(t DiagramType) bool {
	switch t {
	case DiagramFlowchart, DiagramSequence, DiagramClass, DiagramER, DiagramState, DiagramGantt:
		return true
	}
	return false
}

// Diagram holds diagram source text in a declarative graph language.
type Diagram struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type DiagramType `json:"type"`
	Code string      `json:"code"`
}

// TaskStatus is the backlog column of a task.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// IsValidTaskStatus checks if the given task status is valid.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskTodo, TaskDoing, TaskDone:
		return true
	}
	return false
}

// Task is a generated work item destined for the backlog.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Phase       string     `json:"phase"`
	Priority    string     `json:"priority"`
	Status      TaskStatus `json:"status"`
}

// BacklogItem is a task as persisted in the task backlog.
type BacklogItem struct {
	Task
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// CompletenessItem is one evaluated requirement of a configuration.
type CompletenessItem struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Required     bool   `json:"required"`
	Completed    bool   `json:"completed"`
	ValuePreview string `json:"value_preview"`
}

// CompletenessReport is derived from a configuration on demand and never stored.
type CompletenessReport struct {
	IsComplete      bool               `json:"is_complete"`
	ProgressPercent int                `json:"progress_percent"`
	Items           []CompletenessItem `json:"items"`
	MissingRequired []string           `json:"missing_required"`
}

// SpecRecord is the flattened project specification written to the spec store.
type SpecRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Overview      string    `json:"overview"`
	TechStack     string    `json:"tech_stack"`
	DataStructure string    `json:"data_structure"`
	Features      string    `json:"features"`
	Design        string    `json:"design"`
	Rules         string    `json:"rules"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RosterAgent is the subset of an agent kept in the agent roster.
type RosterAgent struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	SystemPrompt string `json:"system_prompt"`
}

// AgentCollection groups the agents generated for one project.
type AgentCollection struct {
	ProjectID   string        `json:"project_id"`
	ProjectName string        `json:"project_name"`
	Agents      []RosterAgent `json:"agents"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Document is a named Markdown context document.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
