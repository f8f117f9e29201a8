package orchestrator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"agentforge/internal/agent"
	"agentforge/internal/models"
	"agentforge/internal/security"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// The parsers below are pure: the same snapshot always yields an equal value and nothing is logged.

var markdown = goldmark.New()

var languageTag = regexp.MustCompile(`^\w+$`)

// remoteLink collects the linkage fields a finished snapshot exposes
func remoteLink(s *agent.Snapshot, uiBaseURL string) models.RemoteLink {
	link := models.RemoteLink{
		AgentID:    s.ID,
		AgentURL:   s.Target.URL,
		BranchName: s.Target.BranchName,
	}
	if link.AgentURL == "" {
		link.AgentURL = agentUIURL(uiBaseURL, s.ID)
	}
	return link
}

func agentUIURL(uiBaseURL, agentID string) string {
	if uiBaseURL == "" || agentID == "" {
		return ""
	}
	return uiBaseURL + "?id=" + url.QueryEscape(agentID)
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

// parsePlan turns a finished plan snapshot into a Plan.
// The agent pushes its work to a branch, so there is no file list to read; the summary is the plan.
func parsePlan(s *agent.Snapshot, uiBaseURL string) *models.Plan {
	link := remoteLink(s, uiBaseURL)

	description := strings.TrimSpace(s.Summary)
	if description == "" {
		description = fmt.Sprintf("The plan was created by the remote agent. Review it on the branch below.\nBranch: %s\nAgent UI: %s",
			orUnknown(link.BranchName), orUnknown(link.AgentURL))
	}

	return &models.Plan{
		Files: []models.PlanFile{},
		Steps: []models.PlanStep{
			{ID: "1", StepNumber: 1, Description: description, Status: "completed"},
		},
		EstimatedTime: "unknown",
		Summary:       description,
		Source:        models.SourceRemote,
		RemoteLink:    link,
	}
}

// parseBuild turns a finished build snapshot into a BuildResult and returns the paths it dropped.
// Files come from fenced blocks tagged "language:path"; without any the output lives on the branch.
func parseBuild(s *agent.Snapshot, uiBaseURL string) (*models.BuildResult, []string) {
	link := remoteLink(s, uiBaseURL)

	raw := extractFiles(s.Summary)
	if len(raw) == 0 && s.Response != "" {
		raw = extractFiles(s.Response)
	}
	files, dropped := normalizeFiles(raw)

	var message string
	if len(files) > 0 {
		message = fmt.Sprintf("Generated %d files", len(files))
	} else {
		message = fmt.Sprintf("Build finished on the remote agent. Review the generated code on its branch.\nBranch: %s\nAgent UI: %s",
			orUnknown(link.BranchName), orUnknown(link.AgentURL))
	}

	return &models.BuildResult{
		Files:      files,
		Status:     models.BuildStatusCompleted,
		Message:    message,
		Source:     models.SourceRemote,
		RemoteLink: link,
	}, dropped
}

// normalizeFiles cleans every path and keeps one entry per path.
// A later block for the same path replaces the earlier content in place.
// Unsafe or reserved paths are dropped and returned.
func normalizeFiles(files []models.BuildFile) ([]models.BuildFile, []string) {
	kept := make([]models.BuildFile, 0, len(files))
	index := make(map[string]int, len(files))
	var dropped []string

	for _, f := range files {
		p, err := security.SanitizeRelativePath(f.Path)
		if err != nil || p == models.BuildMetadataFile {
			dropped = append(dropped, f.Path)
			continue
		}
		f.Path = p
		if i, seen := index[p]; seen {
			kept[i] = f
			continue
		}
		index[p] = len(kept)
		kept = append(kept, f)
	}
	return kept, dropped
}

// extractFiles walks the markdown and returns one file per fenced block whose info string is "language:path"
func extractFiles(body string) []models.BuildFile {
	files := []models.BuildFile{}
	if !strings.Contains(body, "```") && !strings.Contains(body, "~~~") {
		return files
	}

	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, isFence := n.(*ast.FencedCodeBlock)
		if !isFence || block.Info == nil {
			return ast.WalkContinue, nil
		}

		info := strings.TrimSpace(string(block.Info.Segment.Value(src)))
		language, filePath, found := strings.Cut(info, ":")
		filePath = strings.TrimSpace(filePath)
		if !found || filePath == "" || !languageTag.MatchString(language) {
			return ast.WalkSkipChildren, nil
		}

		var content strings.Builder
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			content.Write(segment.Value(src))
		}

		files = append(files, models.BuildFile{
			Path:     filePath,
			Content:  strings.TrimSpace(content.String()),
			Language: strings.ToLower(language),
		})
		return ast.WalkSkipChildren, nil
	})

	return files
}

// chatResponse picks the reply text from a finished follow-up snapshot:
// last message, then the response field, then a short summary, then a pointer to the agent.
func chatResponse(s *agent.Snapshot, summaryLimit int, uiBaseURL string) string {
	if n := len(s.Messages); n > 0 {
		if body := strings.TrimSpace(s.Messages[n-1].Body()); body != "" {
			return body
		}
	}

	if response := strings.TrimSpace(s.Response); response != "" {
		return response
	}

	if summary := strings.TrimSpace(s.Summary); summary != "" && utf8.RuneCountInString(summary) < summaryLimit {
		return summary
	}

	link := remoteLink(s, uiBaseURL)
	reply := "Your message was received. The resulting changes will be pushed to the agent's branch."
	if link.BranchName != "" {
		reply += "\nBranch: " + link.BranchName
	}
	if link.AgentURL != "" {
		reply += "\nAgent UI: " + link.AgentURL
	}
	return reply
}
