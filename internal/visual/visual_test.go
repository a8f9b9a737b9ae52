package visual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown_Compile(t *testing.T) {
	t.Parallel()

	res, err := NewMarkdown().Compile(context.Background(), "# Hello {{ .name }}\n\n| a | b |\n|---|---|\n| 1 | 2 |\n", LevelStrict)

	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
	assert.Contains(t, res.HTML, "<h1>Hello {{ .name }}</h1>")
	assert.Contains(t, res.HTML, "<table>")
	assert.Contains(t, res.HTML, "<!doctype html>")
}

func TestMarkdown_CompileEmpty(t *testing.T) {
	t.Parallel()

	res, err := NewMarkdown().Compile(context.Background(), "  \n\t", LevelStrict)

	require.NoError(t, err)
	assert.Empty(t, res.HTML)
}

func TestMJML_Compile(t *testing.T) {
	t.Parallel()

	src := `<mjml><mj-body><mj-section><mj-column><mj-text>Hello {{ .name }}</mj-text></mj-column></mj-section></mj-body></mjml>`

	res, err := MJML{}.Compile(context.Background(), src, LevelStrict)

	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
	assert.Contains(t, res.HTML, "Hello {{ .name }}")
}

func TestMJML_CompileLevels(t *testing.T) {
	t.Parallel()

	// mj-text directly inside mj-section is invalid.
	src := `<mjml><mj-body><mj-section><mj-text>Hello {{ .name }}</mj-text></mj-section></mj-body></mjml>`

	tests := []struct {
		level     Level
		wantDiags bool
		wantHTML  bool
	}{
		{level: LevelStrict, wantDiags: true, wantHTML: false},
		{level: LevelSoft, wantDiags: true, wantHTML: true},
		{level: LevelSkip, wantDiags: false, wantHTML: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()

			res, err := MJML{}.Compile(context.Background(), src, tt.level)

			require.NoError(t, err)
			assert.Equal(t, tt.wantDiags, len(res.Diagnostics) > 0)
			assert.Equal(t, tt.wantHTML, res.HTML != "")
		})
	}
}

func TestDiagnostic_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Line 10 (mj-text): bad attribute", Diagnostic{Line: 10, Tag: "mj-text", Message: "bad attribute"}.String())
	assert.Equal(t, "Line 3: oops", Diagnostic{Line: 3, Message: "oops"}.String())
	assert.Equal(t, "oops", Diagnostic{Message: "oops"}.String())
}

func TestLevel_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, LevelStrict.Valid())
	assert.True(t, LevelSoft.Valid())
	assert.True(t, LevelSkip.Valid())
	assert.False(t, Level("loose").Valid())
}
