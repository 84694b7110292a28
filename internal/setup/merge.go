package setup

import (
	"strings"

	"taskrails/internal/domain"
)

// Merge folds a partial configuration into base and returns the result.
// A scalar is replaced only by a non-blank value and a sequence only by a
// non-empty one, so confirmed fields are never reset by a later extraction.
// Neither argument is modified.
func Merge(base, partial domain.ProjectConfiguration) domain.ProjectConfiguration {
	out := base.Clone()

	mergeText(&out.ProjectName, partial.ProjectName)
	mergeText(&out.ProjectGoal, partial.ProjectGoal)
	mergeText(&out.DataStructure, partial.DataStructure)
	mergeText(&out.DesignSpec, partial.DesignSpec)
	mergeText(&out.EngineeringRules, partial.EngineeringRules)

	if len(partial.TechStack) > 0 {
		out.TechStack = append([]string{}, partial.TechStack...)
	}
	if len(partial.Features) > 0 {
		out.Features = append([]string{}, partial.Features...)
	}
	if len(partial.Agents) > 0 {
		out.Agents = partial.Clone().Agents
	}
	if len(partial.Diagrams) > 0 {
		out.Diagrams = append([]domain.Diagram{}, partial.Diagrams...)
	}
	if len(partial.Tasks) > 0 {
		out.Tasks = append([]domain.Task{}, partial.Tasks...)
	}
	return out
}

func mergeText(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
