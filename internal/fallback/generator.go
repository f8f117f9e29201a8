// Package fallback synthesizes plans, builds and chat replies without any network access.
// Everything it returns is tagged with models.SourceFallback.
package fallback

import (
	_ "embed"
	"fmt"
	"path"
	"strings"
	"text/template"
	"unicode"

	"agentforge/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Path         string   `yaml:"path"`
	Description  string   `yaml:"description"`
	Dependencies []string `yaml:"dependencies"`
}

type catalogStep struct {
	Description string   `yaml:"description"`
	Files       []string `yaml:"files"`
}

type catalogIntent struct {
	Name          string   `yaml:"name"`
	Keywords      []string `yaml:"keywords"`
	RequiresFiles bool     `yaml:"requires_files"`
	WithPlan      string   `yaml:"with_plan"`
	WithoutPlan   string   `yaml:"without_plan"`
}

type catalog struct {
	Plan struct {
		EstimatedTime string        `yaml:"estimated_time"`
		Summary       string        `yaml:"summary"`
		Files         []catalogFile `yaml:"files"`
		Steps         []catalogStep `yaml:"steps"`
	} `yaml:"plan"`
	Build struct {
		Message      string            `yaml:"message"`
		EmptyMessage string            `yaml:"empty_message"`
		Stubs        map[string]string `yaml:"stubs"`
	} `yaml:"build"`
	Chat struct {
		Intents []catalogIntent `yaml:"intents"`
		Default string          `yaml:"default"`
	} `yaml:"chat"`
}

type intent struct {
	catalogIntent
	withPlan    *template.Template
	withoutPlan *template.Template
}

// Generator renders fallback output from a template catalog
type Generator struct {
	catalog      catalog
	planSummary  *template.Template
	buildMessage *template.Template
	emptyMessage *template.Template
	stubs        map[string]*template.Template
	intents      []intent
	chatDefault  *template.Template
}

// New loads the embedded catalog
func New() (*Generator, error) {
	return NewFromYAML(defaultCatalog)
}

// MustNew is New for package-level wiring; the embedded catalog is covered by tests
func MustNew() *Generator {
	g, err := New()
	if err != nil {
		panic(err)
	}
	return g
}

// NewFromYAML builds a generator from a catalog document
func NewFromYAML(data []byte) (*Generator, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse fallback catalog: %w", err)
	}
	if len(c.Plan.Files) == 0 || len(c.Plan.Steps) == 0 {
		return nil, fmt.Errorf("fallback catalog must define plan files and steps")
	}
	if _, ok := c.Build.Stubs["default"]; !ok {
		return nil, fmt.Errorf("fallback catalog must define a default stub")
	}

	g := &Generator{catalog: c, stubs: make(map[string]*template.Template)}

	var err error
	if g.planSummary, err = parseTemplate("plan.summary", c.Plan.Summary); err != nil {
		return nil, err
	}
	if g.buildMessage, err = parseTemplate("build.message", c.Build.Message); err != nil {
		return nil, err
	}
	if g.emptyMessage, err = parseTemplate("build.empty_message", c.Build.EmptyMessage); err != nil {
		return nil, err
	}
	for ext, body := range c.Build.Stubs {
		if g.stubs[ext], err = parseTemplate("stub."+ext, body); err != nil {
			return nil, err
		}
	}
	for _, ci := range c.Chat.Intents {
		in := intent{catalogIntent: ci}
		if in.withPlan, err = parseTemplate("chat."+ci.Name+".with_plan", ci.WithPlan); err != nil {
			return nil, err
		}
		if in.withoutPlan, err = parseTemplate("chat."+ci.Name+".without_plan", ci.WithoutPlan); err != nil {
			return nil, err
		}
		g.intents = append(g.intents, in)
	}
	if g.chatDefault, err = parseTemplate("chat.default", c.Chat.Default); err != nil {
		return nil, err
	}

	return g, nil
}

func parseTemplate(name, body string) (*template.Template, error) {
	if body == "" {
		return nil, nil
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data interface{}) string {
	if tmpl == nil {
		return ""
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return ""
	}
	return sb.String()
}

// Plan returns the fixed skeleton plan for a project
func (g *Generator) Plan(projectName string) *models.Plan {
	if strings.TrimSpace(projectName) == "" {
		projectName = "Project"
	}

	files := make([]models.PlanFile, 0, len(g.catalog.Plan.Files))
	for _, f := range g.catalog.Plan.Files {
		files = append(files, models.PlanFile{
			Path:         f.Path,
			Description:  f.Description,
			Dependencies: append([]string{}, f.Dependencies...),
		})
	}

	steps := make([]models.PlanStep, 0, len(g.catalog.Plan.Steps))
	for i, s := range g.catalog.Plan.Steps {
		steps = append(steps, models.PlanStep{
			ID:          fmt.Sprintf("step-%d", i+1),
			StepNumber:  i + 1,
			Description: s.Description,
			Files:       append([]string{}, s.Files...),
			Status:      "pending",
		})
	}

	summary := render(g.planSummary, map[string]interface{}{
		"Project":   projectName,
		"FileCount": len(files),
		"StepCount": len(steps),
	})
	if summary == "" {
		summary = fmt.Sprintf("%s implementation plan", projectName)
	}

	return &models.Plan{
		Files:         files,
		Steps:         steps,
		EstimatedTime: g.catalog.Plan.EstimatedTime,
		Summary:       summary,
		Source:        models.SourceFallback,
	}
}

// Build emits one templated stub per file of the plan.
// Without a plan the skeleton file list is used; a plan that lists no files yields no files.
func (g *Generator) Build(plan *models.Plan, projectName string) *models.BuildResult {
	if strings.TrimSpace(projectName) == "" {
		projectName = "Project"
	}

	planFiles := g.Plan(projectName).Files
	if plan != nil {
		planFiles = plan.Files
	}
	if len(planFiles) == 0 {
		return g.emptyBuild(plan, projectName)
	}

	files := make([]models.BuildFile, 0, len(planFiles))
	for _, pf := range planFiles {
		files = append(files, models.BuildFile{
			Path:     pf.Path,
			Content:  g.stub(pf, projectName),
			Language: DetectLanguage(pf.Path),
		})
	}

	result := &models.BuildResult{
		Files:  files,
		Status: models.BuildStatusCompleted,
		Message: render(g.buildMessage, map[string]interface{}{
			"Project":   projectName,
			"FileCount": len(files),
		}),
		Source: models.SourceFallback,
	}
	if plan != nil {
		result.RemoteLink = plan.RemoteLink
	}
	return result
}

func (g *Generator) emptyBuild(plan *models.Plan, projectName string) *models.BuildResult {
	result := &models.BuildResult{
		Files:  []models.BuildFile{},
		Status: models.BuildStatusCompleted,
		Source: models.SourceFallback,
	}
	if plan != nil {
		result.RemoteLink = plan.RemoteLink
	}
	result.Message = render(g.emptyMessage, map[string]interface{}{
		"Project":  projectName,
		"Branch":   result.BranchName,
		"AgentURL": result.AgentURL,
	})
	if result.Message == "" {
		result.Message = fmt.Sprintf("The plan for %s lists no files, so nothing was generated locally", projectName)
	}
	return result
}

func (g *Generator) stub(pf models.PlanFile, projectName string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(pf.Path)), ".")
	if ext == "tsx" {
		ext = "ts"
	}
	tmpl, ok := g.stubs[ext]
	if !ok {
		tmpl = g.stubs["default"]
	}

	description := pf.Description
	if description == "" {
		description = projectName
	}

	return render(tmpl, map[string]interface{}{
		"Path":        pf.Path,
		"Description": description,
		"Project":     projectName,
		"ClassName":   className(pf.Path),
	})
}

// Chat answers from keyword intents; the first matching intent wins
func (g *Generator) Chat(message string, plan *models.Plan) models.ChatReply {
	lower := strings.ToLower(message)
	hasPlan := plan != nil

	data := map[string]interface{}{"Message": strings.TrimSpace(message)}
	if hasPlan {
		paths := make([]string, 0, len(plan.Files))
		for _, f := range plan.Files {
			paths = append(paths, f.Path)
		}
		data["FileCount"] = len(plan.Files)
		data["StepCount"] = len(plan.Steps)
		data["Summary"] = plan.Summary
		data["FileList"] = strings.Join(paths, ", ")
	}

	for _, in := range g.intents {
		if !containsAny(lower, in.Keywords) {
			continue
		}
		if in.RequiresFiles && (!hasPlan || len(plan.Files) == 0) {
			continue
		}

		tmpl := in.withoutPlan
		if hasPlan && in.withPlan != nil {
			tmpl = in.withPlan
		}
		if tmpl == nil {
			tmpl = in.withPlan
		}
		if text := render(tmpl, data); text != "" {
			return models.ChatReply{Response: text, Source: models.SourceFallback}
		}
	}

	return models.ChatReply{Response: render(g.chatDefault, data), Source: models.SourceFallback}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DetectLanguage maps a file extension to a language label
func DetectLanguage(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".md":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "text"
	}
}

// className turns "src/services/auth-service.ts" into "AuthService"
func className(filePath string) string {
	base := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))

	var sb strings.Builder
	upper := true
	for _, r := range base {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			sb.WriteRune(r)
		}
	}

	name := sb.String()
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "Module" + name
	}
	return name
}
