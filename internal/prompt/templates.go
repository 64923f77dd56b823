// Package prompt maps a tool name and free-form parameters to a prompt string.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Tool names with built-in templates.
const (
	ToolSummarize = "summarize"
	ToolTranslate = "translate"
	ToolCode      = "code"
	ToolExplain   = "explain"
)

// Placeholder names understood by templates.
const (
	PlaceholderInput          = "input"
	PlaceholderTargetLanguage = "target_language"
	PlaceholderLanguage       = "language"
)

var (
	// ErrInvalidTemplate indicates a template definition that cannot be used.
	ErrInvalidTemplate = errors.New("invalid prompt template")

	// ErrMissingPlaceholder indicates a placeholder with no value and no default.
	ErrMissingPlaceholder = errors.New("missing placeholder value")
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

var knownPlaceholders = map[string]bool{
	PlaceholderInput:          true,
	PlaceholderTargetLanguage: true,
	PlaceholderLanguage:       true,
}

// DefaultTemplates returns the built-in tool templates.
func DefaultTemplates() map[string]string {
	return map[string]string{
		ToolSummarize: "Summarize the following text concisely, keeping the key points:\n{input}",
		ToolTranslate: "Translate the following text into {target_language}. Keep it natural and fluent:\n{input}",
		ToolCode:      "Write {language} code for the following task. Reply with the code and a short explanation:\n{input}",
		ToolExplain:   "Explain the following in simple, easy-to-understand terms:\n{input}",
	}
}

// templateFile is the on-disk layout of a templates file:
//
//	[templates]
//	flirt = "Reply flirtatiously to: {input}"
type templateFile struct {
	Templates map[string]string `toml:"templates"`
}

// LoadTemplates reads templates from a TOML file and merges them over the
// built-in set. An empty path returns the built-ins.
func LoadTemplates(path string) (map[string]string, error) {
	templates := DefaultTemplates()
	if path == "" {
		return templates, nil
	}

	var file templateFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode templates file %s: %w", path, err)
	}
	for name, tmpl := range file.Templates {
		templates[strings.ToLower(strings.TrimSpace(name))] = tmpl
	}

	if err := ValidateTemplates(templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// ValidateTemplates checks that every template takes the user input and uses
// only known placeholders.
func ValidateTemplates(templates map[string]string) error {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%w: empty tool name", ErrInvalidTemplate)
		}
		tmpl := templates[name]
		if !strings.Contains(tmpl, "{"+PlaceholderInput+"}") {
			return fmt.Errorf("%w: %q does not contain {%s}", ErrInvalidTemplate, name, PlaceholderInput)
		}
		for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
			if !knownPlaceholders[m[1]] {
				return fmt.Errorf("%w: %q uses unknown placeholder {%s}", ErrInvalidTemplate, name, m[1])
			}
		}
	}
	return nil
}
