package setup

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"taskrails/internal/domain"
)

// SpecID is the id of the single project specification record.
const SpecID = "default"

// Document names written by a deployment.
const (
	DocSpecs           = "specs"
	DocTechStack       = "tech-stack"
	DocArchitecture    = "architecture"
	DocPlannerDiagrams = "planner-diagrams"
)

// RenderSpec flattens a configuration into the spec record: tech stack one
// entry per line, features as numbered lines.
func RenderSpec(cfg domain.ProjectConfiguration, now time.Time) domain.SpecRecord {
	features := make([]string, len(cfg.Features))
	for i, f := range cfg.Features {
		features[i] = fmt.Sprintf("%d. %s", i+1, f)
	}
	return domain.SpecRecord{
		ID:            SpecID,
		Name:          cfg.ProjectName,
		Overview:      cfg.ProjectGoal,
		TechStack:     strings.Join(cfg.TechStack, "\n"),
		DataStructure: cfg.DataStructure,
		Features:      strings.Join(features, "\n"),
		Design:        cfg.DesignSpec,
		Rules:         cfg.EngineeringRules,
		UpdatedAt:     now.UTC(),
	}
}

// RenderDocuments returns the context documents for cfg in write order.
// The output depends only on cfg.
func RenderDocuments(cfg domain.ProjectConfiguration) []domain.Document {
	name := cfg.ProjectName
	if name == "" {
		name = "Project"
	}

	var specs strings.Builder
	fmt.Fprintf(&specs, "# %s Specs\n\n## Overview\n%s\n\n## Features\n", name, cfg.ProjectGoal)
	writeBullets(&specs, cfg.Features)
	fmt.Fprintf(&specs, "\n## Rules\n%s\n", cfg.EngineeringRules)

	var tech strings.Builder
	tech.WriteString("# Technology Stack\n\n")
	writeBullets(&tech, cfg.TechStack)

	arch := fmt.Sprintf("# System Architecture\n\n## Design\n%s\n\n## Data Structure\n%s\n", cfg.DesignSpec, cfg.DataStructure)

	docs := []domain.Document{
		{Name: DocSpecs, Content: specs.String()},
		{Name: DocTechStack, Content: tech.String()},
		{Name: DocArchitecture, Content: arch},
	}
	if len(cfg.Diagrams) > 0 {
		docs = append(docs, domain.Document{Name: DocPlannerDiagrams, Content: renderDiagrams(cfg.Diagrams)})
	}
	return docs
}

func writeBullets(sb *strings.Builder, items []string) {
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}

func renderDiagrams(diagrams []domain.Diagram) string {
	var sb strings.Builder
	sb.WriteString("# Planner Diagrams\n")
	for _, d := range diagrams {
		fmt.Fprintf(&sb, "\n## %s (%s)\n\n```mermaid\n%s\n```\n", d.Name, d.Type, strings.TrimRight(d.Code, "\n"))
	}
	return sb.String()
}

// RenderRoster builds the roster entry for cfg.
func RenderRoster(cfg domain.ProjectConfiguration, now time.Time) domain.AgentCollection {
	agents := make([]domain.RosterAgent, len(cfg.Agents))
	for i, a := range cfg.Agents {
		agents[i] = domain.RosterAgent{Name: a.Name, Role: a.Role, SystemPrompt: a.SystemPrompt}
	}
	name := cfg.ProjectName
	if strings.TrimSpace(name) == "" {
		name = "Untitled Project"
	}
	return domain.AgentCollection{
		ProjectID:   ProjectID(cfg.ProjectName),
		ProjectName: name,
		Agents:      agents,
		LastUpdated: now.UTC(),
	}
}

// ProjectID derives the roster and saved-project key from a project name.
func ProjectID(name string) string {
	slug := Slugify(name)
	if slug == "" {
		slug = "untitled"
	}
	return "project-" + slug
}

// Slugify lower-cases s and collapses every run of characters other than
// letters and digits into a single dash. Non-Latin letters are kept.
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			dash = false
			sb.WriteRune(r)
			continue
		}
		dash = true
	}
	return sb.String()
}
