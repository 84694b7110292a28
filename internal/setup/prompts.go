package setup

import (
	"fmt"
	"strings"

	"taskrails/internal/domain"
)

// Greeting opens every new or reset session.
const Greeting = "Hi! I'm your project setup assistant. Tell me what kind of project you want to build."

// DefaultLanguage is used when a session has no explicit output language.
const DefaultLanguage = "en-US"

var languageNames = map[string]string{
	"zh-TW": "Traditional Chinese (Taiwan)",
	"zh-CN": "Simplified Chinese (China)",
	"en-US": "English (US)",
	"ja-JP": "Japanese",
	"es-ES": "Spanish",
	"fr-FR": "French",
	"de-DE": "German",
}

// IsSupportedLanguage reports whether code is an accepted output language.
func IsSupportedLanguage(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// LanguageName returns the English name of an output language code,
// falling back to the default language.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return languageNames[DefaultLanguage]
}

// askHints are the follow-up questions suggested for each missing field.
var askHints = map[Field]string{
	FieldProjectName:      "What should this project be called?",
	FieldProjectGoal:      "Could you describe the goal in a sentence or two, e.g. what problem it solves?",
	FieldTechStack:        "Do you have a preferred stack, e.g. React or Vue on the front end, and which backend language?",
	FieldFeatures:         "What are the core features, i.e. what must a user be able to do?",
	FieldDataStructure:    "Which main entities need to be stored, and where?",
	FieldDesignSpec:       "Is there a visual style or component library you want to follow?",
	FieldEngineeringRules: "Which engineering rules apply, e.g. linting, testing, typing?",
}

// SystemPrompt is the fixed instruction describing the marker syntax and the
// structured block, with the output language stated explicitly.
func SystemPrompt(language string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OUTPUT LANGUAGE: respond entirely in %s, including every JSON string value and agent system prompt.\n\n", LanguageName(language))
	sb.WriteString(`You are the TaskRails setup coordinator. You turn the user's idea into a complete project blueprint,
working with a project manager and a planner agent. Recommend concrete options with reasons instead of asking open questions.

Record every confirmed value with the mark syntax below. Each reply should fill at least two marks.
Never emit an empty mark.

| Mark | Field | Example |
|---|---|---|
| /ProjectName/*xxx* | project name | /ProjectName/*Mobile Rangefinder* |
| /ProjectGoal/*xxx* | core goal | /ProjectGoal/*Real-time distance measurement with the camera* |
| /TechStack/*a*, *b* | technology stack | /TechStack/*React Native*, *ARCore* |
| /Features/*a*, *b* | feature modules | /Features/*AR measurement*, *History* |
| /DataStructure/*xxx* | data architecture | /DataStructure/*Measurement table (time, value, photo)* |
| /DesignSpec/*xxx* | UI/UX style | /DesignSpec/*Minimal industrial, high contrast* |
| /EngineeringRules/*xxx* | quality standards | /EngineeringRules/*TypeScript only, Jest tests* |

List marks keep all of their *values* on one line.

Once every required field is confirmed, output one fenced json block:
` + "```json" + `
{
  "agents": [{"name": "...", "role": "...", "skills": ["..."], "systemPrompt": "..."}],
  "diagrams": [{"name": "...", "type": "flowchart|sequence|class|er|state|gantt", "code": "..."}],
  "tasks": [{"title": "...", "description": "...", "phase": "...", "priority": "1-5", "status": "todo"}]
}
` + "```" + `
Agents need a detailed systemPrompt. Diagram code is Mermaid source with every label in double quotes.
`)
	return sb.String()
}

// StatusSnapshot renders the current completeness report and what to ask
// next. It is rebuilt for every outbound prompt so direct edits are reflected
// in the next question.
func StatusSnapshot(report domain.CompletenessReport) string {
	var sb strings.Builder
	sb.WriteString("## Current project configuration\n\n")
	sb.WriteString("| Item | Status | Value |\n|---|---|---|\n")
	for _, it := range report.Items {
		if !it.Required {
			continue
		}
		status := "missing"
		if it.Completed {
			status = "set"
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", it.Name, status, it.ValuePreview)
	}
	fmt.Fprintf(&sb, "\n**Progress: %d%%**\n\n## Next step\n\n", report.ProgressPercent)

	if report.IsComplete {
		sb.WriteString("All required items are confirmed. Generate the full json block with agents, diagrams and tasks.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Ask about: %s\n\n", strings.Join(report.MissingRequired, ", "))
	for _, it := range report.Items {
		if !it.Required || it.Completed {
			continue
		}
		if hint, ok := askHints[Field(it.Key)]; ok {
			fmt.Fprintf(&sb, "- %q\n", hint)
		}
	}
	sb.WriteString("\nRecord each answer with the mark syntax, e.g. /ProjectName/*xxx* or /TechStack/*React*, *Node.js*.\n")
	return sb.String()
}

// BuildPrompt assembles the outbound message list: system instruction plus a
// fresh status snapshot, followed by the full prior log.
func BuildPrompt(language string, cfg domain.ProjectConfiguration, log []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(log)+1)
	out = append(out, domain.Message{
		Role:    domain.RoleSystem,
		Content: SystemPrompt(language) + "\n" + StatusSnapshot(Evaluate(cfg)),
	})
	for _, m := range log {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
