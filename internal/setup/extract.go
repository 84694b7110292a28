package setup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"taskrails/internal/domain"
)

// Strategy names the extraction path that produced a field value.
type Strategy string

const (
	StrategyMarker Strategy = "marker"
	StrategyBlock  Strategy = "block"
	StrategyLabel  Strategy = "label"
)

// Extraction is a partial configuration together with the strategy that
// supplied each populated field.
type Extraction struct {
	Config  domain.ProjectConfiguration
	Sources map[Field]Strategy
}

// Empty reports whether nothing was extracted. This is the normal result of a
// clarifying assistant turn and not an error.
func (e Extraction) Empty() bool {
	return len(e.Sources) == 0
}

type markerPattern struct {
	markerTag
	value *regexp.Regexp // first /<tag>/*value*
	line  *regexp.Regexp // rest of the line following /<tag>/*
}

var (
	markerPatterns []markerPattern
	// anyMarkerRe finds the start of any known marker, used to bound list
	// collection when several markers share one line.
	anyMarkerRe *regexp.Regexp
	listItemRe  = regexp.MustCompile(`\*([^*\n]*)\*`)

	// jsonFenceRe matches fenced JSON code blocks in markdown.
	jsonFenceRe = regexp.MustCompile("(?is)```json[ \\t]*\\n?(.*?)```")

	nameLabelRe = regexp.MustCompile(`(?im)(?:專案名稱|專案|名稱|project\s+name|project)\s*[：:][*_\s]*([^\n#/*]+)`)
	goalLabelRe = regexp.MustCompile(`(?im)(?:專案目標|目標|project\s+goal|goal)\s*[：:][*_\s]*([^\n#/*]+)`)
)

func init() {
	var all []string
	for _, mt := range markerTags {
		alt := make([]string, len(mt.tags))
		for i, tag := range mt.tags {
			alt[i] = regexp.QuoteMeta(tag)
		}
		group := "(?:" + strings.Join(alt, "|") + ")"
		all = append(all, alt...)
		markerPatterns = append(markerPatterns, markerPattern{
			markerTag: mt,
			value:     regexp.MustCompile(`/` + group + `/\*([^*]+)\*`),
			line:      regexp.MustCompile(`/` + group + `/(\*[^\n]*)`),
		})
	}
	anyMarkerRe = regexp.MustCompile(`/(?:` + strings.Join(all, "|") + `)/\*`)
}

// Extract parses assistant text into a partial configuration. It never fails:
// text without markers or a parsable block yields an empty configuration.
func Extract(text string) domain.ProjectConfiguration {
	return ExtractDetailed(text).Config
}

// ExtractDetailed runs marker extraction, then the structured block as a
// fallback for fields markers did not supply, then the label fallback for
// project name and goal.
func ExtractDetailed(text string) Extraction {
	ex := Extraction{
		Config:  domain.DefaultProjectConfiguration(),
		Sources: make(map[Field]Strategy),
	}

	for _, mp := range markerPatterns {
		if mp.list {
			if items := collectListMarker(mp, text); len(items) > 0 {
				ex.setList(mp.field, items, StrategyMarker)
			}
			continue
		}
		if m := mp.value.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				ex.setText(mp.field, v, StrategyMarker)
			}
		}
	}

	if block, ok := findBlock(text); ok {
		ex.applyBlock(block)
	}

	if _, ok := ex.Sources[FieldProjectName]; !ok {
		if v := matchLabel(nameLabelRe, text); v != "" {
			ex.setText(FieldProjectName, v, StrategyLabel)
		}
	}
	if _, ok := ex.Sources[FieldProjectGoal]; !ok {
		if v := matchLabel(goalLabelRe, text); v != "" {
			ex.setText(FieldProjectGoal, v, StrategyLabel)
		}
	}
	return ex
}

// collectListMarker gathers every *value* on the line of the first list
// marker, stopping at the next marker on that line.
func collectListMarker(mp markerPattern, text string) []string {
	m := mp.line.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	rest := m[1]
	// Skip the opening '*' so the marker's own prefix is not found again.
	if loc := anyMarkerRe.FindStringIndex(rest[1:]); loc != nil {
		rest = rest[:loc[0]+1]
	}
	var raw []string
	for _, item := range listItemRe.FindAllStringSubmatch(rest, -1) {
		raw = append(raw, item[1])
	}
	return cleanList(raw)
}

func matchLabel(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func (e *Extraction) setText(f Field, v string, s Strategy) {
	switch f {
	case FieldProjectName:
		e.Config.ProjectName = v
	case FieldProjectGoal:
		e.Config.ProjectGoal = v
	case FieldDataStructure:
		e.Config.DataStructure = v
	case FieldDesignSpec:
		e.Config.DesignSpec = v
	case FieldEngineeringRules:
		e.Config.EngineeringRules = v
	default:
		return
	}
	e.Sources[f] = s
}

func (e *Extraction) setList(f Field, v []string, s Strategy) {
	switch f {
	case FieldTechStack:
		e.Config.TechStack = v
	case FieldFeatures:
		e.Config.Features = v
	default:
		return
	}
	e.Sources[f] = s
}

func isListField(f Field) bool {
	return f == FieldTechStack || f == FieldFeatures
}

// findBlock returns the first fenced JSON block that decodes as an object.
func findBlock(text string) (map[string]json.RawMessage, bool) {
	for _, m := range jsonFenceRe.FindAllStringSubmatch(text, -1) {
		body := bytes.TrimSpace([]byte(m[1]))
		if len(body) == 0 || body[0] != '{' {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			continue
		}
		return obj, true
	}
	return nil, false
}

// applyBlock maps allow-listed keys onto fields that markers left unset.
// Unknown keys are ignored.
func (e *Extraction) applyBlock(block map[string]json.RawMessage) {
	for _, alias := range blockAliases {
		if _, taken := e.Sources[alias.field]; taken {
			continue
		}
		for _, key := range alias.keys {
			raw, ok := block[key]
			if !ok {
				continue
			}
			if isListField(alias.field) {
				if items := decodeList(raw); len(items) > 0 {
					e.setList(alias.field, items, StrategyBlock)
					break
				}
				continue
			}
			if v := strings.TrimSpace(decodeText(raw)); v != "" {
				e.setText(alias.field, v, StrategyBlock)
				break
			}
		}
	}

	if agents := decodeAgents(block["agents"]); len(agents) > 0 {
		e.Config.Agents = agents
		e.Sources[FieldAgents] = StrategyBlock
	}
	if diagrams := decodeDiagrams(block["diagrams"]); len(diagrams) > 0 {
		e.Config.Diagrams = diagrams
		e.Sources[FieldDiagrams] = StrategyBlock
	}
	if tasks := decodeTasks(block["tasks"]); len(tasks) > 0 {
		e.Config.Tasks = tasks
		e.Sources[FieldTasks] = StrategyBlock
	}
}

// decodeText renders a JSON value as text. Strings are unquoted, arrays of
// strings become one line per item, other values keep their JSON text.
func decodeText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(cleanList(list), "\n")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// decodeList accepts an array of strings, or a single string separated by
// newlines or commas.
func decodeList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var out []string
		for _, it := range items {
			var s string
			if err := json.Unmarshal(it, &s); err == nil {
				out = append(out, s)
			}
		}
		return cleanList(out)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return splitList(s)
}

func splitList(s string) []string {
	sep := "\n"
	if !strings.Contains(s, "\n") {
		sep = ","
	}
	return cleanList(strings.Split(s, sep))
}

// cleanList trims items, drops empties and duplicates, keeping first-seen order.
func cleanList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

type blockAgent struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Role         string          `json:"role"`
	Skills       json.RawMessage `json:"skills"`
	SystemPrompt string          `json:"systemPrompt"`
}

func decodeAgents(raw json.RawMessage) []domain.Agent {
	if len(raw) == 0 {
		return nil
	}
	var in []blockAgent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil
	}
	out := make([]domain.Agent, 0, len(in))
	for _, a := range in {
		agent := NormalizeAgent(domain.Agent{
			ID:           a.ID,
			Name:         a.Name,
			Role:         a.Role,
			Skills:       decodeList(a.Skills),
			SystemPrompt: a.SystemPrompt,
		})
		out = append(out, agent)
	}
	return out
}

// NormalizeAgent fills defaults for missing agent fields.
func NormalizeAgent(a domain.Agent) domain.Agent {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		a.ID = "agent-" + uuid.NewString()[:8]
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		a.Name = "New Member"
	}
	a.Role = strings.TrimSpace(a.Role)
	if a.Role == "" {
		a.Role = "Expert Advisor"
	}
	a.Skills = cleanList(a.Skills)
	a.SystemPrompt = strings.TrimSpace(a.SystemPrompt)
	if a.SystemPrompt == "" {
		a.SystemPrompt = fmt.Sprintf("You are %s, acting as %s for this project.", a.Name, a.Role)
	}
	return a
}

type blockDiagram struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Code string `json:"code"`
}

func decodeDiagrams(raw json.RawMessage) []domain.Diagram {
	if len(raw) == 0 {
		return nil
	}
	var in []blockDiagram
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil
	}
	out := make([]domain.Diagram, 0, len(in))
	for _, d := range in {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			continue
		}
		n := len(out) + 1
		dt := domain.DiagramType(strings.ToLower(strings.TrimSpace(d.Type)))
		if !domain.IsValidDiagramType(dt) {
			dt = domain.DiagramFlowchart
		}
		id := strings.TrimSpace(d.ID)
		if id == "" {
			id = fmt.Sprintf("diagram-%d", n)
		}
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = fmt.Sprintf("Diagram %d", n)
		}
		out = append(out, domain.Diagram{ID: id, Name: name, Type: dt, Code: code})
	}
	return out
}

type blockTask struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Phase       json.RawMessage `json:"phase"`
	Priority    json.RawMessage `json:"priority"`
	Status      string          `json:"status"`
}

func decodeTasks(raw json.RawMessage) []domain.Task {
	if len(raw) == 0 {
		return nil
	}
	var in []blockTask
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil
	}
	out := make([]domain.Task, 0, len(in))
	for _, t := range in {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		status := domain.TaskStatus(strings.ToLower(strings.TrimSpace(t.Status)))
		if !domain.IsValidTaskStatus(status) {
			status = domain.TaskTodo
		}
		out = append(out, domain.Task{
			ID:          strings.TrimSpace(t.ID),
			Title:       title,
			Description: strings.TrimSpace(t.Description),
			Phase:       strings.TrimSpace(decodeText(t.Phase)),
			Priority:    strings.TrimSpace(decodeText(t.Priority)),
			Status:      status,
		})
	}
	return out
}
