package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(DefaultTemplates(), Defaults{TargetLanguage: "Chinese", Language: "Python"})
	require.NoError(t, err)
	return r
}

func TestResolve_UnknownToolIsPassthrough(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t)

	for _, tool := range []string{"", "none", "flirt", "SUMMARIZE-ish", "  "} {
		got, err := r.Resolve(tool, "Hello {input} there", Params{})
		require.NoError(t, err)
		assert.Equal(t, "Hello {input} there", got, "tool %q", tool)
	}
}

func TestResolve_KnownToolsEmbedMessage(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t)

	for _, tool := range []string{ToolSummarize, ToolTranslate, ToolCode, ToolExplain} {
		got, err := r.Resolve(tool, "the quick brown fox", Params{})
		require.NoError(t, err)
		assert.Contains(t, got, "the quick brown fox", "tool %q", tool)
		assert.NotContains(t, got, "{", "tool %q left a placeholder: %q", tool, got)
	}
}

func TestResolve_Translate(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t)

	got, err := r.Resolve(ToolTranslate, "Hello", Params{TargetLanguage: "French"})
	require.NoError(t, err)

	want := strings.NewReplacer("{target_language}", "French", "{input}", "Hello").
		Replace(DefaultTemplates()[ToolTranslate])
	assert.Equal(t, want, got)
}

func TestResolve_Defaults(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t)

	got, err := r.Resolve(ToolTranslate, "Bonjour", Params{})
	require.NoError(t, err)
	assert.Contains(t, got, "Chinese")

	got, err = r.Resolve(ToolCode, "reverse a list", Params{})
	require.NoError(t, err)
	assert.Contains(t, got, "Python")

	got, err = r.Resolve(ToolCode, "reverse a list", Params{Language: "Go"})
	require.NoError(t, err)
	assert.Contains(t, got, "Go code")
}

func TestResolve_MessageWithBracesIsNotExpanded(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t)

	got, err := r.Resolve(ToolExplain, "what does {language} mean here", Params{Language: "Rust"})
	require.NoError(t, err)
	assert.Contains(t, got, "what does {language} mean here")
}

func TestNewResolver_RequiresDefaultsForUsedPlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		defaults Defaults
		want     string
	}{
		{"no defaults", Defaults{}, "{language}"},
		{"blank target language", Defaults{TargetLanguage: "  ", Language: "Python"}, "{target_language}"},
		{"blank code language", Defaults{TargetLanguage: "Chinese"}, "{language}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(DefaultTemplates(), tt.defaults)
			require.ErrorIs(t, err, ErrInvalidTemplate)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// Templates that never use a language need no defaults.
	r, err := NewResolver(map[string]string{ToolSummarize: "Summarize: {input}"}, Defaults{})
	require.NoError(t, err)
	got, err := r.Resolve(ToolSummarize, "text", Params{})
	require.NoError(t, err)
	assert.Equal(t, "Summarize: text", got)
}

func TestValidateTemplates(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTemplates(DefaultTemplates()))

	err := ValidateTemplates(map[string]string{"broken": "no input here"})
	require.ErrorIs(t, err, ErrInvalidTemplate)

	err = ValidateTemplates(map[string]string{"broken": "{input} in {tone}"})
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadTemplates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "templates.toml")
	content := "[templates]\nflirt = \"Reply flirtatiously to: {input}\"\nexplain = \"ELI5: {input}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	templates, err := LoadTemplates(path)
	require.NoError(t, err)
	assert.Equal(t, "ELI5: {input}", templates[ToolExplain])
	assert.Equal(t, "Reply flirtatiously to: {input}", templates["flirt"])
	assert.Contains(t, templates, ToolTranslate)

	r, err := NewResolver(templates, Defaults{TargetLanguage: "English", Language: "Python"})
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "explain", "flirt", "summarize", "translate"}, r.Tools())
}

func TestLoadTemplates_RejectsBadTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "templates.toml")
	require.NoError(t, os.WriteFile(path, []byte("[templates]\nbad = \"{nope}\"\n"), 0o644))

	_, err := LoadTemplates(path)
	require.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadTemplates_EmptyPath(t *testing.T) {
	t.Parallel()

	templates, err := LoadTemplates("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplates(), templates)
}
