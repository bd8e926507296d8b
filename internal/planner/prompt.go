package planner

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

const defaultPromptTemplate = `You are an expert project manager. Break down this goal into actionable tasks with realistic durations.

Goal: {{.Goal}}
{{- if .Deadline}}
Deadline: {{.Deadline}}
{{- end}}
{{- if .Context}}

## Context
{{.Context}}
{{- end}}

Create a task breakdown following this EXACT JSON structure:

{
  "tasks": [
    {
      "title": "Task title",
      "description": "What needs to be done",
      "duration": 2,
      "dependencies": ["Title of a task that must finish first"],
      "priority": "high",
      "category": "Planning"
    }
  ],
  "risk_factors": ["Something that could delay the plan"],
  "recommendations": ["Advice for carrying out the plan"]
}

Requirements:
1. Create {{.MinTasks}}-{{.MaxTasks}} specific, actionable tasks
2. "duration" is a number of working days (fractions allowed)
3. "dependencies" lists the exact titles of earlier tasks in this list; use [] for none
4. Do not create circular dependencies
5. "priority" is one of: low, medium, high, critical
6. Identify 2-3 risk factors and give 2-3 recommendations
{{- if .Deadline}}
7. The longest chain of dependent tasks must fit before {{.Deadline}}
{{- end}}

Return ONLY the JSON object. No markdown fences, no commentary outside the JSON.
`

// PromptData holds the data used to render a prompt template.
type PromptData struct {
	Goal     string
	Context  string
	Deadline string
	MinTasks int
	MaxTasks int
}

// RenderPrompt renders a generation prompt using either a custom template file or the default.
func RenderPrompt(data PromptData, templatePath string) (string, error) {
	tmplStr := defaultPromptTemplate
	if templatePath != "" {
		content, err := os.ReadFile(templatePath)
		if err != nil {
			return "", fmt.Errorf("read prompt template: %w", err)
		}
		tmplStr = string(content)
	}

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}
