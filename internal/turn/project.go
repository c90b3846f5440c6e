package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// maxProjectFiles caps how many files a scaffold may contain.
const maxProjectFiles = 8

// ProjectExecutor scaffolds a multi-file project: a structured description
// first, then each file's content streamed in turn.
type ProjectExecutor struct {
	deps Deps
}

func (e *ProjectExecutor) Kind() models.ActionKind { return models.ActionProject }

func (e *ProjectExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	t.separate()
	t.Emit("Planning the project structure...\n\n")

	text, err := e.deps.Generator.Generate(ctx, conversationContents(t, t.CurrentPrompt), llm.GenerateOptions{
		SystemInstruction: e.deps.Prompts.Project,
		ResponseFormat:    llm.FormatJSON,
	})
	if err != nil {
		return Terminal, fmt.Errorf("describe project: %w", err)
	}

	var project models.Project
	if err := llm.DecodeJSON(text, &project); err != nil {
		return Terminal, fmt.Errorf("describe project: %w", err)
	}
	project.Files = validFiles(project.Files)
	if len(project.Files) == 0 {
		return Terminal, fmt.Errorf("describe project: no files")
	}
	if project.Name == "" {
		project.Name = "project"
	}

	root := models.Slugify(project.Name)
	if root == "" {
		root = "project"
	}
	t.Emit(fmt.Sprintf("**%s** (`%s/`)\n", project.Name, root))
	if project.Description != "" {
		t.Emit(project.Description + "\n")
	}
	t.Emit("\n")
	for _, f := range project.Files {
		t.Emit(fmt.Sprintf("- `%s` %s\n", f.Path, f.Purpose))
	}

	for i := range project.Files {
		f := &project.Files[i]
		t.Emit(fmt.Sprintf("\n### %s/%s\n```%s\n", root, f.Path, f.Language))
		t.beginStep()

		prompt := fmt.Sprintf("Project: %s\n%s\n\nFiles:\n%s\nWrite the complete content of %s (%s). Reply with the file content only, no code fences.",
			project.Name, project.Description, fileList(project.Files), f.Path, f.Purpose)
		err := streamInto(ctx, t, e.deps.Generator, e.deps.Prompts.Canvas,
			[]llm.Content{llm.TextContent(llm.RoleUser, prompt)}, llm.StreamOptions{})
		if err != nil {
			return Terminal, fmt.Errorf("write %s: %w", f.Path, err)
		}
		f.Content = t.StepText()
		if !strings.HasSuffix(f.Content, "\n") {
			t.Emit("\n")
		}
		t.Emit("```\n")
	}

	t.SetMetadata(MetaProject, &project)
	return Terminal, nil
}

func validFiles(files []models.ProjectFile) []models.ProjectFile {
	var out []models.ProjectFile
	seen := make(map[string]bool)
	for _, f := range files {
		f.Path = strings.TrimPrefix(strings.TrimSpace(f.Path), "/")
		if f.Path == "" || strings.Contains(f.Path, "..") || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
		if len(out) == maxProjectFiles {
			break
		}
	}
	return out
}

func fileList(files []models.ProjectFile) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "- %s: %s\n", f.Path, f.Purpose)
	}
	return b.String()
}
