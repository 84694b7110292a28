package setup

import (
	"reflect"
	"strings"
	"testing"

	"taskrails/internal/domain"
)

func TestExtractMarkers(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		check func(t *testing.T, cfg domain.ProjectConfiguration)
	}{
		{
			name: "english name marker",
			text: "Great choice. /ProjectName/*FlavorBase* sounds good.",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				if cfg.ProjectName != "FlavorBase" {
					t.Fatalf("ProjectName = %q", cfg.ProjectName)
				}
			},
		},
		{
			name: "chinese name marker",
			text: "/專案名稱/*味覺庫*",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				if cfg.ProjectName != "味覺庫" {
					t.Fatalf("ProjectName = %q", cfg.ProjectName)
				}
			},
		},
		{
			name: "scalar takes first match trimmed",
			text: "/DesignSpec/*  Material dark  * and later /DesignSpec/*Bootstrap*",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				if cfg.DesignSpec != "Material dark" {
					t.Fatalf("DesignSpec = %q", cfg.DesignSpec)
				}
			},
		},
		{
			name: "ordered tech stack without duplicates",
			text: "/TechStack/*React*, *Node.js*, *React*, * *, *PostgreSQL*",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				want := []string{"React", "Node.js", "PostgreSQL"}
				if !reflect.DeepEqual(cfg.TechStack, want) {
					t.Fatalf("TechStack = %v, want %v", cfg.TechStack, want)
				}
			},
		},
		{
			name: "list collection stops at next marker",
			text: "/TechStack/*Go* /Features/*Search*, *Bookmarks*\n*Not a feature*",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				if !reflect.DeepEqual(cfg.TechStack, []string{"Go"}) {
					t.Fatalf("TechStack = %v", cfg.TechStack)
				}
				if !reflect.DeepEqual(cfg.Features, []string{"Search", "Bookmarks"}) {
					t.Fatalf("Features = %v", cfg.Features)
				}
			},
		},
		{
			name: "all seven fields",
			text: "/專案名稱/*FlavorBase*\n/專案目標/*Help home cooks find and keep recipes*\n" +
				"/技術棧/*React*, *Node*\n/功能清單/*Search*, *Bookmarking*\n" +
				"/資料結構/*recipes and users in Postgres*\n/設計規範/*Material UI dark theme*\n/工程規則/*ESLint + Jest*",
			check: func(t *testing.T, cfg domain.ProjectConfiguration) {
				if !Evaluate(cfg).IsComplete {
					t.Fatalf("expected complete configuration, got %+v", Evaluate(cfg).MissingRequired)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Extract(tt.text))
		})
	}
}

func TestExtractMarkerBeatsBlock(t *testing.T) {
	text := "/ProjectName/*Alpha*\n```json\n{\"name\": \"Beta\", \"goal\": \"A goal from the block text\", \"tech\": [\"Go\", \"Redis\"]}\n```"
	ex := ExtractDetailed(text)
	if ex.Config.ProjectName != "Alpha" {
		t.Fatalf("marker should win, got %q", ex.Config.ProjectName)
	}
	if ex.Sources[FieldProjectName] != StrategyMarker {
		t.Fatalf("expected marker source, got %q", ex.Sources[FieldProjectName])
	}
	if ex.Config.ProjectGoal != "A goal from the block text" || ex.Sources[FieldProjectGoal] != StrategyBlock {
		t.Fatalf("block should fill goal: %+v", ex)
	}
	if !reflect.DeepEqual(ex.Config.TechStack, []string{"Go", "Redis"}) {
		t.Fatalf("TechStack = %v", ex.Config.TechStack)
	}
}

func TestExtractBlockAliasesAndCollections(t *testing.T) {
	text := "Here is the plan:\n```json\n" + `{
  "overview": "Recipe sharing for home cooks",
  "features": "Search, Bookmarks",
  "design": "Material",
  "rules": ["ESLint", "Jest"],
  "unknownKey": "ignored",
  "agents": [
    {"name": "Ada", "role": "Product Manager", "skills": ["planning", "planning", "roadmaps"], "systemPrompt": "You plan."},
    {"role": "Architect"}
  ],
  "diagrams": [
    {"name": "Flow", "type": "sequence", "code": "sequenceDiagram\nA->>B: hi"},
    {"name": "Empty", "type": "flowchart", "code": "  "},
    {"type": "mindmap", "code": "graph TD; A-->B"}
  ],
  "tasks": [
    {"title": "Set up repo", "priority": 1, "status": "DOING"},
    {"title": "", "description": "dropped"},
    {"id": "T-2", "title": "Write schema", "status": "blocked"}
  ]
}` + "\n```"

	ex := ExtractDetailed(text)
	cfg := ex.Config
	if cfg.ProjectGoal != "Recipe sharing for home cooks" {
		t.Errorf("ProjectGoal = %q", cfg.ProjectGoal)
	}
	if !reflect.DeepEqual(cfg.Features, []string{"Search", "Bookmarks"}) {
		t.Errorf("Features = %v", cfg.Features)
	}
	if cfg.DesignSpec != "Material" || cfg.EngineeringRules != "ESLint\nJest" {
		t.Errorf("design/rules = %q / %q", cfg.DesignSpec, cfg.EngineeringRules)
	}

	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	if !reflect.DeepEqual(cfg.Agents[0].Skills, []string{"planning", "roadmaps"}) {
		t.Errorf("skills not de-duplicated: %v", cfg.Agents[0].Skills)
	}
	second := cfg.Agents[1]
	if second.Name != "New Member" || !strings.HasPrefix(second.ID, "agent-") || second.SystemPrompt == "" {
		t.Errorf("agent defaults not applied: %+v", second)
	}

	if len(cfg.Diagrams) != 2 {
		t.Fatalf("diagram without code should be dropped, got %d", len(cfg.Diagrams))
	}
	if cfg.Diagrams[1].Type != domain.DiagramFlowchart || cfg.Diagrams[1].ID != "diagram-2" {
		t.Errorf("unexpected diagram defaults: %+v", cfg.Diagrams[1])
	}

	if len(cfg.Tasks) != 2 {
		t.Fatalf("task without title should be dropped, got %d", len(cfg.Tasks))
	}
	if cfg.Tasks[0].Status != domain.TaskDoing || cfg.Tasks[0].Priority != "1" {
		t.Errorf("task 0 = %+v", cfg.Tasks[0])
	}
	if cfg.Tasks[1].Status != domain.TaskTodo || cfg.Tasks[1].ID != "T-2" {
		t.Errorf("task 1 = %+v", cfg.Tasks[1])
	}
	for _, f := range []Field{FieldAgents, FieldDiagrams, FieldTasks} {
		if ex.Sources[f] != StrategyBlock {
			t.Errorf("expected block source for %s", f)
		}
	}
}

func TestExtractMalformedBlockIsIgnored(t *testing.T) {
	text := "```json\n{\"name\": \"Broken\",\n```\n```json\n[1, 2]\n```\n```json\n{\"name\": \"Second\"}\n```"
	if got := Extract(text).ProjectName; got != "Second" {
		t.Fatalf("first parsable object should win, got %q", got)
	}
	if !ExtractDetailed("```json\n{oops\n```").Empty() {
		t.Fatal("malformed block alone should extract nothing")
	}
}

func TestExtractNothingIsNotAnError(t *testing.T) {
	ex := ExtractDetailed("What kind of app would you like to build?")
	if !ex.Empty() || !ex.Config.IsEmpty() {
		t.Fatalf("expected empty extraction, got %+v", ex)
	}
	if ex.Config.TechStack == nil {
		t.Fatal("slices should be non-nil")
	}
}

func TestExtractLabelFallback(t *testing.T) {
	ex := ExtractDetailed("Summary so far\nProject Name: FlavorBase\nGoal: Help home cooks organise recipes")
	if ex.Config.ProjectName != "FlavorBase" || ex.Sources[FieldProjectName] != StrategyLabel {
		t.Fatalf("name label not applied: %+v", ex)
	}
	if ex.Config.ProjectGoal != "Help home cooks organise recipes" {
		t.Fatalf("goal label not applied: %q", ex.Config.ProjectGoal)
	}

	zh := Extract("專案名稱：味覺庫\n目標：讓使用者收藏並搜尋食譜的應用")
	if zh.ProjectName != "味覺庫" || zh.ProjectGoal != "讓使用者收藏並搜尋食譜的應用" {
		t.Fatalf("chinese labels not applied: %+v", zh)
	}

	withMarker := Extract("/ProjectName/*Alpha*\nProject Name: Beta")
	if withMarker.ProjectName != "Alpha" {
		t.Fatalf("label must not override marker, got %q", withMarker.ProjectName)
	}

	onlyOthers := Extract("Tech: Go\nDatabase: Postgres")
	if !onlyOthers.IsEmpty() {
		t.Fatalf("labels for other fields must be ignored: %+v", onlyOthers)
	}
}

func TestNormalizeAgentKeepsGivenValues(t *testing.T) {
	a := NormalizeAgent(domain.Agent{ID: " a1 ", Name: "Lin", Role: "Architect", SystemPrompt: "Design it."})
	if a.ID != "a1" || a.Name != "Lin" || a.SystemPrompt != "Design it." {
		t.Fatalf("unexpected agent %+v", a)
	}
	if a.Skills == nil {
		t.Fatal("skills should be non-nil")
	}
}
