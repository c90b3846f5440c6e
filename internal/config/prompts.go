package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds the system instructions used by each generation step.
// Fields left empty in a prompts file keep their built-in defaults.
type Prompts struct {
	Simple   string `yaml:"simple"`
	Search   string `yaml:"search"`
	Think    string `yaml:"think"`
	Canvas   string `yaml:"canvas"`
	Project  string `yaml:"project"`
	Study    string `yaml:"study"`
	Router   string `yaml:"router"`
	Research string `yaml:"research"`
	Memory   string `yaml:"memory"`
	Title    string `yaml:"title"`
}

// DefaultPrompts returns the built-in system instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		Simple: `You are a helpful assistant in a chat application. Answer directly and concisely.
If the request needs something you cannot do in plain text, finish your reply with exactly one marker:
- <SEARCH>query</SEARCH> for current or factual information from the web
- <SEARCH>deep: topic</SEARCH> for a thorough multi-source research report
- <THINK> when the problem needs careful step-by-step reasoning
- <IMAGE>description</IMAGE> to generate an image
- <PROJECT>description</PROJECT> to scaffold a multi-file code project
- <CANVAS>description</CANVAS> to write a single self-contained file of code
- <STUDY>topic</STUDY> to build a study plan
Only use a marker when it is clearly needed.`,

		Search: `Answer using up-to-date information from web search. Be factual and concise and mention where facts come from.`,

		Think: `Reason through the problem carefully before answering. Show the key steps, check your work, then state the final answer clearly.`,

		Canvas: `Write a single, complete, self-contained file that fulfils the request. Reply with one fenced code block followed by a short explanation.`,

		Project: `You design small software projects. Reply with JSON only:
{"name": string, "description": string, "files": [{"path": string, "purpose": string, "language": string}]}
Keep the project minimal but runnable.`,

		Study: `You create study plans. Reply with JSON only:
{"title": string, "goal": string, "steps": [{"title": string, "duration": string, "objectives": [string], "resources": [string]}]}`,

		Router: `Classify the user's request into exactly one action:
simple, search, deep_search, think, image, project, canvas, study.
Reply with JSON only: {"action": string, "parameters": {"query": string}}.
Use "simple" when unsure.`,

		Research: `You are a research assistant. Break the question into focused web searches, then synthesise a well-structured report citing the findings.`,

		Memory: `Extract durable facts about the user from the exchange. Reply with JSON only:
[{"layer": "profile" | "preferences" | "facts", "content": string}]
Reply with [] when there is nothing worth remembering.`,

		Title: `Write a short title (at most six words) for a conversation that starts with the following exchange. Reply with the title only, no quotes.`,
	}
}

// LoadPrompts returns the default prompts overlaid with any values set in the
// YAML file at path. An empty path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("read prompts file: %w", err)
	}

	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return prompts, fmt.Errorf("parse prompts file: %w", err)
	}

	prompts.merge(override)
	return prompts, nil
}

func (p *Prompts) merge(o Prompts) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.Simple, o.Simple)
	set(&p.Search, o.Search)
	set(&p.Think, o.Think)
	set(&p.Canvas, o.Canvas)
	set(&p.Project, o.Project)
	set(&p.Study, o.Study)
	set(&p.Router, o.Router)
	set(&p.Research, o.Research)
	set(&p.Memory, o.Memory)
	set(&p.Title, o.Title)
}
