package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentforge/internal/models"
)

const specSeparator = "\n\n---\n\n"

func languagePreamble(language string) string {
	if language == "" {
		return ""
	}
	return fmt.Sprintf("Respond in %s.\n\n", language)
}

func buildPlanPrompt(pc PlanContext, language string) string {
	var sb strings.Builder
	sb.WriteString(languagePreamble(language))
	sb.WriteString("You are a coding agent. Create an implementation plan for the specification below.\n\n")
	fmt.Fprintf(&sb, "## Project\n%s\n\n", pc.ProjectName)
	fmt.Fprintf(&sb, "## Specification\n%s\n\n", strings.Join(pc.Specifications, specSeparator))
	if pc.AdditionalContext != "" {
		fmt.Fprintf(&sb, "## Additional context\n%s\n\n", pc.AdditionalContext)
	}
	sb.WriteString("## Requirements\n")
	sb.WriteString("- List every file that needs to be created or changed\n")
	sb.WriteString("- Describe the role of each file\n")
	sb.WriteString("- Give the implementation order\n")
	sb.WriteString("- Take dependencies between files into account\n\n")
	sb.WriteString("Return the plan as JSON.\n")
	return sb.String()
}

func buildExecutionPrompt(pc PlanContext, plan *models.Plan, language string) string {
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		planJSON = []byte(plan.Summary)
	}

	var sb strings.Builder
	sb.WriteString(languagePreamble(language))
	sb.WriteString("Implement the code described by the plan below.\n\n")
	fmt.Fprintf(&sb, "## Project\n%s\n\n", pc.ProjectName)
	fmt.Fprintf(&sb, "## Specification\n%s\n\n", strings.Join(pc.Specifications, specSeparator))
	fmt.Fprintf(&sb, "## Plan\n%s\n\n", planJSON)
	sb.WriteString("## Guidelines\n")
	sb.WriteString("- Use a language that suits the project (TypeScript, Python, ...)\n")
	sb.WriteString("- Follow the conventions of the existing code\n")
	sb.WriteString("- Comment where the code is not obvious\n")
	sb.WriteString("- Include tests\n")
	sb.WriteString("- When reporting, put each file in a fenced block tagged language:path\n")
	return sb.String()
}

func buildFollowupPrompt(pc PlanContext, plan *models.Plan, message, language string) string {
	var sb strings.Builder
	sb.WriteString(languagePreamble(language))
	if len(pc.Specifications) > 0 {
		fmt.Fprintf(&sb, "## Specification\n%s\n\n", strings.Join(pc.Specifications, specSeparator))
	}
	if plan != nil {
		fmt.Fprintf(&sb, "## Current plan\n%s\n\n", plan.Summary)
	}
	fmt.Fprintf(&sb, "## Message\n%s\n", message)
	return sb.String()
}
