package setup

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"taskrails/internal/domain"
)

const (
	minGoalLength  = 10
	previewLength  = 30
	previewPending = "not provided"
)

// Evaluate scores a configuration against the seven required items. It is
// pure and total: any configuration, including the zero value, yields a
// report. Team, diagram and task items are informational and never count
// toward progress.
func Evaluate(cfg domain.ProjectConfiguration) domain.CompletenessReport {
	name := strings.TrimSpace(cfg.ProjectName)
	goal := strings.TrimSpace(cfg.ProjectGoal)
	goalLen := utf8.RuneCountInString(goal)

	items := []domain.CompletenessItem{
		requiredItem(FieldProjectName, name != "", textPreview(name)),
		requiredItem(FieldProjectGoal, goalLen >= minGoalLength, goalPreview(goal, goalLen)),
		requiredItem(FieldTechStack, len(cfg.TechStack) > 0, listPreview(cfg.TechStack)),
		requiredItem(FieldFeatures, len(cfg.Features) > 0, countPreview(len(cfg.Features), "feature")),
		requiredItem(FieldDataStructure, strings.TrimSpace(cfg.DataStructure) != "", textPreview(cfg.DataStructure)),
		requiredItem(FieldDesignSpec, strings.TrimSpace(cfg.DesignSpec) != "", textPreview(cfg.DesignSpec)),
		requiredItem(FieldEngineeringRules, strings.TrimSpace(cfg.EngineeringRules) != "", textPreview(cfg.EngineeringRules)),
		teamItem(cfg.Agents),
		infoItem(FieldDiagrams, len(cfg.Diagrams) > 0, countPreview(len(cfg.Diagrams), "diagram")),
		infoItem(FieldTasks, len(cfg.Tasks) > 0, countPreview(len(cfg.Tasks), "task")),
	}

	report := domain.CompletenessReport{
		Items:           items,
		MissingRequired: []string{},
	}
	completed := 0
	for _, it := range items {
		if !it.Required {
			continue
		}
		if it.Completed {
			completed++
		} else {
			report.MissingRequired = append(report.MissingRequired, it.Name)
		}
	}
	report.ProgressPercent = int(math.Round(100 * float64(completed) / float64(len(requiredFields))))
	report.IsComplete = len(report.MissingRequired) == 0
	return report
}

func requiredItem(f Field, completed bool, preview string) domain.CompletenessItem {
	return domain.CompletenessItem{
		Key:          string(f),
		Name:         f.DisplayName(),
		Required:     true,
		Completed:    completed,
		ValuePreview: preview,
	}
}

func infoItem(f Field, completed bool, preview string) domain.CompletenessItem {
	it := requiredItem(f, completed, preview)
	it.Required = false
	return it
}

// teamItem counts as complete once the team has at least two members
// including a project manager and an architect.
func teamItem(agents []domain.Agent) domain.CompletenessItem {
	if len(agents) == 0 {
		return infoItem(FieldAgents, false, "not assembled")
	}
	var hasPM, hasArchitect bool
	for _, a := range agents {
		text := strings.ToLower(a.Name + " " + a.Role)
		if hasWord(text, "pm") || strings.Contains(text, "product") ||
			strings.Contains(text, "project manager") || strings.Contains(text, "經理") {
			hasPM = true
		}
		if strings.Contains(text, "architect") || strings.Contains(text, "架構") {
			hasArchitect = true
		}
	}
	var missing []string
	if !hasPM {
		missing = append(missing, "PM")
	}
	if !hasArchitect {
		missing = append(missing, "Architect")
	}
	preview := countPreview(len(agents), "agent")
	if len(missing) > 0 {
		preview += " (missing: " + strings.Join(missing, ", ") + ")"
	}
	return infoItem(FieldAgents, len(agents) >= 2 && len(missing) == 0, preview)
}

func hasWord(text, word string) bool {
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if w == word {
			return true
		}
	}
	return false
}

func textPreview(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return previewPending
	}
	return truncate(strings.Join(strings.Fields(v), " "), previewLength)
}

func goalPreview(goal string, n int) string {
	if goal == "" {
		return previewPending
	}
	if n < minGoalLength {
		return fmt.Sprintf("too short (%d/%d)", n, minGoalLength)
	}
	return textPreview(goal)
}

func listPreview(items []string) string {
	if len(items) == 0 {
		return previewPending
	}
	return truncate(strings.Join(items, ", "), previewLength)
}

func countPreview(n int, noun string) string {
	if n == 0 {
		return previewPending
	}
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
