package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a setup conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SessionState describes where a session is in its turn cycle.
type SessionState string

const (
	SessionIdle          SessionState = "idle"
	SessionAwaitingReply SessionState = "awaiting_reply"
)

// ModelSelection is the AI backend a session talks to.
type ModelSelection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

// SessionSnapshot is a read-only copy of a session's state.
type SessionSnapshot struct {
	ID            string               `json:"id"`
	Generation    uint64               `json:"generation"`
	State         SessionState         `json:"state"`
	Model         ModelSelection       `json:"model"`
	WorkspacePath string               `json:"workspace_path,omitempty"`
	Messages      []Message            `json:"messages"`
	Config        ProjectConfiguration `json:"config"`
	Completeness  CompletenessReport   `json:"completeness"`
}

// SavedProject is a persisted snapshot of a setup session that can be reloaded.
type SavedProject struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	WorkspacePath string               `json:"workspace_path"`
	Config        ProjectConfiguration `json:"config"`
	Messages      []Message            `json:"messages"`
	SavedAt       time.Time            `json:"saved_at"`
}

// SavedProjectSummary is the list view of a saved project.
type SavedProjectSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WorkspacePath string    `json:"workspace_path"`
	SavedAt       time.Time `json:"saved_at"`
}

// SendMessageRequest is the input for posting a user turn.
type SendMessageRequest struct {
	Message string `json:"message"`
}
