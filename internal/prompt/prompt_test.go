package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderMissingVariablesAreEmpty(t *testing.T) {
	r := NewRenderer("", zap.NewNop())
	out, err := r.Render("Hello {{name}}, you are {{missing}}!{{#nothing}} hidden{{/nothing}}", map[string]any{"name": "Joe"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Joe, you are !", out)
}

func TestRenderDoesNotEscape(t *testing.T) {
	r := NewRenderer("", zap.NewNop())
	out, err := r.Render("{{q}}", map[string]any{"q": `"quoted" & <tag>`})
	require.NoError(t, err)
	assert.Equal(t, `"quoted" & <tag>`, out)
}

func TestAgentTemplateIncludesPersonaAndState(t *testing.T) {
	r := NewRenderer("", zap.NewNop())
	vars, err := r.AgentVariables(
		map[string]any{"name": "Joe", "age": 35, "occupation": "Data Analyst"},
		AgentState{
			Context:       "Choosing an ad",
			Goals:         "Pick the best ad",
			MemoryContext: []string{"SOURCE: a\nDISTANCE: 0.1000\nRELEVANT CONTENT:\nfoo"},
			Datetime:      "2024-01-01T10:00:00",
		},
		RAIToggles{HarmfulContent: true, Copyright: false},
	)
	require.NoError(t, err)

	out, err := r.RenderNamed(AgentTemplate, vars)
	require.NoError(t, err)
	assert.Contains(t, out, "Name: Joe")
	assert.Contains(t, out, "Age: 35")
	assert.Contains(t, out, "Choosing an ad")
	assert.Contains(t, out, "Pick the best ad")
	assert.Contains(t, out, "RELEVANT CONTENT")
	assert.Contains(t, out, "harmful to someone")
	assert.NotContains(t, out, "copyright infringement")
}

func TestAgentTemplateRAIOff(t *testing.T) {
	r := NewRenderer("", zap.NewNop())
	vars, err := r.AgentVariables(map[string]any{"name": "Ann"}, AgentState{}, RAIToggles{})
	require.NoError(t, err)
	out, err := r.RenderNamed(AgentTemplate, vars)
	require.NoError(t, err)
	assert.NotContains(t, out, "harmful to someone")
	assert.NotContains(t, out, "copyright infringement")
	assert.False(t, strings.Contains(out, "Age:"), "unset age should collapse")
}

func TestOverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AgentTemplate), []byte("custom {{persona.name}}"), 0o644))
	r := NewRenderer(dir, zap.NewNop())
	out, err := r.RenderNamed(AgentTemplate, map[string]any{"persona": map[string]any{"name": "Zed"}})
	require.NoError(t, err)
	assert.Equal(t, "custom Zed", out)

	// Templates absent from the directory fall back to the embedded copy.
	src, err := r.Source(ExtractorTemplate)
	require.NoError(t, err)
	assert.Contains(t, src, "Extraction objective")
}

func TestExtractorTemplate(t *testing.T) {
	r := NewRenderer("", zap.NewNop())
	out, err := r.RenderNamed(ExtractorTemplate, map[string]any{
		"extraction_objective": "Find the chosen ad",
		"situation":            "An ad test",
		"has_fields":           true,
		"fields":               []string{"ad_number", "ad_title"},
		"has_hints":            true,
		"fields_hints":         []map[string]string{{"name": "ad_number", "hint": "an integer"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "  - ad_number\n  - ad_title")
	assert.Contains(t, out, "ad_number: an integer")
	assert.Equal(t, 1, strings.Count(out, "# Fields"))
}
