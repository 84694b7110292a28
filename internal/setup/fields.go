// Package setup implements the conversational project configuration engine:
// extraction of structured fields from assistant replies, completeness
// evaluation, the chat session that merges extractions, and the deployment
// coordinator that fans a finished configuration out to its sinks.
package setup

// Field identifies a configuration field that extraction can populate.
type Field string

const (
	FieldProjectName      Field = "projectName"
	FieldProjectGoal      Field = "projectGoal"
	FieldTechStack        Field = "techStack"
	FieldFeatures         Field = "features"
	FieldDataStructure    Field = "dataStructure"
	FieldDesignSpec       Field = "designSpec"
	FieldEngineeringRules Field = "engineeringRules"
	FieldAgents           Field = "agents"
	FieldDiagrams         Field = "diagrams"
	FieldTasks            Field = "tasks"
)

// requiredFields lists the seven fields a configuration needs before it can
// be deployed, in display order.
var requiredFields = []Field{
	FieldProjectName,
	FieldProjectGoal,
	FieldTechStack,
	FieldFeatures,
	FieldDataStructure,
	FieldDesignSpec,
	FieldEngineeringRules,
}

// allFields is requiredFields followed by the block-only fields.
var allFields = append(append([]Field{}, requiredFields...), FieldAgents, FieldDiagrams, FieldTasks)

// DisplayName is the human-readable label used in reports and prompts.
func (f Field) DisplayName() string {
	switch f {
	case FieldProjectName:
		return "Project Name"
	case FieldProjectGoal:
		return "Project Goal"
	case FieldTechStack:
		return "Tech Stack"
	case FieldFeatures:
		return "Features"
	case FieldDataStructure:
		return "Data Structure"
	case FieldDesignSpec:
		return "Design Spec"
	case FieldEngineeringRules:
		return "Engineering Rules"
	case FieldAgents:
		return "Team"
	case FieldDiagrams:
		return "Diagrams"
	case FieldTasks:
		return "Tasks"
	}
	return string(f)
}

// markerTag binds every accepted spelling of a marker tag to its field.
type markerTag struct {
	field Field
	tags  []string
	list  bool
}

// markerTags is the fixed marker vocabulary. The Chinese tags are the
// canonical ones; the English spellings are the ones the system prompt teaches.
var markerTags = []markerTag{
	{field: FieldProjectName, tags: []string{"專案名稱", "ProjectName"}},
	{field: FieldProjectGoal, tags: []string{"專案目標", "ProjectGoal"}},
	{field: FieldTechStack, tags: []string{"技術棧", "TechStack"}, list: true},
	{field: FieldFeatures, tags: []string{"功能清單", "Features"}, list: true},
	{field: FieldDataStructure, tags: []string{"資料結構", "DataStructure"}},
	{field: FieldDesignSpec, tags: []string{"設計規範", "DesignSpec"}},
	{field: FieldEngineeringRules, tags: []string{"工程規則", "EngineeringRules"}},
}

// blockAliases is the allow-list mapping structured-block keys to fields.
// Keys not listed here are ignored. Earlier keys win over later ones.
var blockAliases = []struct {
	field Field
	keys  []string
}{
	{FieldProjectName, []string{"projectName", "name"}},
	{FieldProjectGoal, []string{"projectGoal", "goal", "overview"}},
	{FieldTechStack, []string{"techStack", "tech"}},
	{FieldFeatures, []string{"features"}},
	{FieldDataStructure, []string{"dataStructure"}},
	{FieldDesignSpec, []string{"designSpec", "design"}},
	{FieldEngineeringRules, []string{"engineeringRules", "rules"}},
}
