package setup

import (
	"reflect"
	"strings"
	"testing"

	"taskrails/internal/domain"
)

func completeConfig() domain.ProjectConfiguration {
	cfg := domain.DefaultProjectConfiguration()
	cfg.ProjectName = "FlavorBase"
	cfg.ProjectGoal = "Help home cooks find and bookmark recipes"
	cfg.TechStack = []string{"React", "Node"}
	cfg.Features = []string{"Search", "Bookmarking"}
	cfg.DataStructure = "recipes and users in Postgres"
	cfg.DesignSpec = "Material UI dark theme"
	cfg.EngineeringRules = "ESLint + Jest"
	return cfg
}

func TestEvaluateEmptyConfiguration(t *testing.T) {
	for _, cfg := range []domain.ProjectConfiguration{{}, domain.DefaultProjectConfiguration()} {
		r := Evaluate(cfg)
		if r.IsComplete || r.ProgressPercent != 0 {
			t.Fatalf("empty config: %+v", r)
		}
		if len(r.MissingRequired) != 7 {
			t.Fatalf("expected 7 missing, got %v", r.MissingRequired)
		}
		if len(r.Items) != 10 {
			t.Fatalf("expected 7 required + 3 informational items, got %d", len(r.Items))
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := completeConfig()
	cfg.Features = nil
	a, b := Evaluate(cfg), Evaluate(cfg)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("evaluate must be deterministic")
	}
}

func TestEvaluateProgress(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*domain.ProjectConfiguration)
		progress int
		complete bool
	}{
		{"complete", func(*domain.ProjectConfiguration) {}, 100, true},
		{"missing rules", func(c *domain.ProjectConfiguration) { c.EngineeringRules = "  " }, 86, false},
		{"short goal", func(c *domain.ProjectConfiguration) { c.ProjectGoal = "Recipes" }, 86, false},
		{"missing two", func(c *domain.ProjectConfiguration) { c.TechStack = nil; c.Features = []string{} }, 71, false},
		{"only name", func(c *domain.ProjectConfiguration) {
			*c = domain.ProjectConfiguration{ProjectName: "X"}
		}, 14, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := completeConfig()
			tt.mutate(&cfg)
			r := Evaluate(cfg)
			if r.ProgressPercent != tt.progress || r.IsComplete != tt.complete {
				t.Fatalf("progress=%d complete=%v, want %d %v", r.ProgressPercent, r.IsComplete, tt.progress, tt.complete)
			}
			if r.IsComplete != (len(r.MissingRequired) == 0) {
				t.Fatal("isComplete must match missingRequired")
			}
		})
	}
}

func TestEvaluateSingleFieldFlip(t *testing.T) {
	cfg := completeConfig()
	cfg.DesignSpec = ""
	before := Evaluate(cfg)
	if before.IsComplete || !reflect.DeepEqual(before.MissingRequired, []string{"Design Spec"}) {
		t.Fatalf("unexpected report %+v", before)
	}
	after := Evaluate(Merge(cfg, domain.ProjectConfiguration{DesignSpec: "Material"}))
	if !after.IsComplete || after.ProgressPercent != 100 {
		t.Fatalf("setting the last field should complete the configuration: %+v", after)
	}
}

func TestEvaluatePreviews(t *testing.T) {
	cfg := completeConfig()
	cfg.ProjectGoal = "Short"
	cfg.Features = []string{"Search", "Bookmarks", "Sharing", "Meal plans"}
	cfg.DataStructure = strings.Repeat("x", 40)
	r := Evaluate(cfg)

	previews := map[string]string{}
	for _, it := range r.Items {
		previews[it.Key] = it.ValuePreview
	}
	if previews["projectGoal"] != "too short (5/10)" {
		t.Errorf("goal preview = %q", previews["projectGoal"])
	}
	if previews["features"] != "4 features" {
		t.Errorf("features preview = %q", previews["features"])
	}
	if previews["dataStructure"] != strings.Repeat("x", 30)+"..." {
		t.Errorf("data preview = %q", previews["dataStructure"])
	}
	if previews["tasks"] != "not provided" {
		t.Errorf("tasks preview = %q", previews["tasks"])
	}
}

func TestEvaluateTeamIsInformational(t *testing.T) {
	cfg := completeConfig()
	cfg.Agents = []domain.Agent{{Name: "Dev", Role: "Developer in development"}}
	r := Evaluate(cfg)
	if !r.IsComplete || r.ProgressPercent != 100 {
		t.Fatal("team must not affect completeness")
	}
	var team domain.CompletenessItem
	for _, it := range r.Items {
		if it.Key == string(FieldAgents) {
			team = it
		}
	}
	if team.Completed || team.ValuePreview != "1 agent (missing: PM, Architect)" {
		t.Fatalf("unexpected team item %+v", team)
	}

	cfg.Agents = append(cfg.Agents,
		domain.Agent{Name: "Ada", Role: "PM"},
		domain.Agent{Name: "Lin", Role: "Solution Architect"})
	for _, it := range Evaluate(cfg).Items {
		if it.Key == string(FieldAgents) && !it.Completed {
			t.Fatalf("team with PM and architect should be complete: %+v", it)
		}
	}
}

func TestMergeIsNonDestructive(t *testing.T) {
	base := completeConfig()
	partial := domain.ProjectConfiguration{
		ProjectName: "   ",
		TechStack:   []string{},
		Features:    []string{"Search", "Sharing"},
	}
	out := Merge(base, partial)
	if out.ProjectName != "FlavorBase" {
		t.Errorf("blank scalar must not overwrite, got %q", out.ProjectName)
	}
	if !reflect.DeepEqual(out.TechStack, base.TechStack) {
		t.Errorf("empty array must not overwrite, got %v", out.TechStack)
	}
	if !reflect.DeepEqual(out.Features, []string{"Search", "Sharing"}) {
		t.Errorf("non-empty array should replace, got %v", out.Features)
	}

	out.TechStack[0] = "Vue"
	if base.TechStack[0] != "React" {
		t.Error("merge must not alias the base slices")
	}

	if got := Merge(base, domain.ProjectConfiguration{ProjectGoal: "  A longer project goal  "}); got.ProjectGoal != "A longer project goal" {
		t.Errorf("scalars are trimmed, got %q", got.ProjectGoal)
	}
}

func TestPromptIncludesLanguageAndSnapshot(t *testing.T) {
	cfg := completeConfig()
	cfg.EngineeringRules = ""
	log := []domain.Message{
		{Role: domain.RoleAssistant, Content: Greeting},
		{Role: domain.RoleSystem, Content: "dropped"},
		{Role: domain.RoleUser, Content: "hello"},
	}
	msgs := BuildPrompt("ja-JP", cfg, log)
	if len(msgs) != 3 || msgs[0].Role != domain.RoleSystem {
		t.Fatalf("unexpected prompt %+v", msgs)
	}
	sys := msgs[0].Content
	for _, want := range []string{"Japanese", "/ProjectName/*xxx*", "Progress: 86%", "Ask about: Engineering Rules"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if LanguageName("xx-XX") != LanguageName(DefaultLanguage) || IsSupportedLanguage("xx-XX") {
		t.Error("unknown language should fall back to the default")
	}

	done := StatusSnapshot(Evaluate(completeConfig()))
	if !strings.Contains(done, "All required items are confirmed") {
		t.Errorf("complete snapshot should ask for the json block: %s", done)
	}
}
