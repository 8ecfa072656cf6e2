package summarizer

import (
	"strings"

	"github.com/ternarybob/codestory/internal/models"
)

// Default prompt templates by node kind. Placeholders: {name}, {kind},
// {source}, {docstring}, {children}, {group}.
var defaultTemplates = map[string]string{
	models.NodeFunction: `Summarize what the function {name} does in two or three sentences.
Focus on behavior, inputs, outputs, and side effects. Do not restate the code.

Docstring:
{docstring}

Source:
{source}

Summaries of functions it calls:
{children}`,

	models.NodeClass: `Summarize the class {name} in three or four sentences.
Describe its responsibility and how its methods work together.

Docstring:
{docstring}

Source:
{source}

Summaries of its methods and base classes:
{children}`,

	models.NodeModule: `Summarize the module {name} in three or four sentences.
Describe its purpose and the main entities it defines.

Docstring:
{docstring}

Source:
{source}

Summaries of entities it contains:
{children}`,
}

const systemPrompt = "You are a precise technical writer producing short natural-language summaries of source code for a knowledge graph. Answer with the summary text only."

// groupNote is appended when the entity sits in a mutual-recursion group
const groupNote = `

This entity is part of a mutually dependent group with: {group}.
Describe its role within that group.`

// renderPrompt fills a template for one entity. Overrides from the
// prompt_template_overrides parameter take precedence per node kind.
func renderPrompt(e *entity, source string, children []string, group []string, overrides map[string]string) string {
	template := defaultTemplates[e.Label]
	if override, ok := overrides[e.Label]; ok && override != "" {
		template = override
	}
	if template == "" {
		template = defaultTemplates[models.NodeFunction]
	}

	childText := "(none)"
	if len(children) > 0 {
		childText = strings.Join(children, "\n")
	}

	if len(group) > 0 {
		template += groupNote
	}

	replacer := strings.NewReplacer(
		"{name}", e.QualifiedName,
		"{kind}", e.Label,
		"{source}", source,
		"{docstring}", e.Docstring,
		"{children}", childText,
		"{group}", strings.Join(group, ", "),
	)
	return replacer.Replace(template)
}
