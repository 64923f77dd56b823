package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Params carries the optional tool-specific values from a chat request.
type Params struct {
	TargetLanguage string
	Language       string
}

// Defaults are used for placeholders the request leaves empty.
type Defaults struct {
	TargetLanguage string
	Language       string
}

// Resolver formats prompts from a fixed template set.
type Resolver struct {
	templates map[string]string
	defaults  Defaults
}

// NewResolver validates the templates and returns a resolver over them.
// Every placeholder other than {input} used by a template needs a default,
// so a request that omits it still resolves.
func NewResolver(templates map[string]string, defaults Defaults) (*Resolver, error) {
	if err := ValidateTemplates(templates); err != nil {
		return nil, err
	}
	if err := checkDefaults(templates, defaults); err != nil {
		return nil, err
	}
	own := make(map[string]string, len(templates))
	for name, tmpl := range templates {
		own[name] = tmpl
	}
	return &Resolver{templates: own, defaults: defaults}, nil
}

// Resolve returns the prompt for tool. An empty or unknown tool yields the
// message unchanged.
func (r *Resolver) Resolve(tool, message string, params Params) (string, error) {
	tmpl, ok := r.templates[strings.ToLower(strings.TrimSpace(tool))]
	if !ok {
		return message, nil
	}

	values := map[string]string{
		PlaceholderInput:          message,
		PlaceholderTargetLanguage: firstNonEmpty(params.TargetLanguage, r.defaults.TargetLanguage),
		PlaceholderLanguage:       firstNonEmpty(params.Language, r.defaults.Language),
	}

	// Single pass so placeholder-like text inside the user's message is left alone.
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		v, known := values[name]
		if !known {
			return token
		}
		if v == "" && name != PlaceholderInput {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("tool %q: %w: {%s}", tool, ErrMissingPlaceholder, missing)
	}
	return out, nil
}

// Tools returns the sorted names of all available tools.
func (r *Resolver) Tools() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkDefaults(templates map[string]string, defaults Defaults) error {
	values := map[string]string{
		PlaceholderTargetLanguage: defaults.TargetLanguage,
		PlaceholderLanguage:       defaults.Language,
	}
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, m := range placeholderPattern.FindAllStringSubmatch(templates[name], -1) {
			v, ok := values[m[1]]
			if ok && strings.TrimSpace(v) == "" {
				return fmt.Errorf("%w: %q uses {%s} but no default is configured", ErrInvalidTemplate, name, m[1])
			}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
