package bulkmailer

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Template is a compiled body or subject template.
// Rendering fails when the template references a variable the row does not carry.
//
// Bodies use text/template rather than html/template: the markup comes from a
// trusted visual compiler and html/template strips the conditional comments
// that MJML output relies on for Outlook.
type Template struct {
	name string
	tmpl *template.Template
}

// CompileTemplate parses src into a strict template.
func CompileTemplate(name, src string) (*Template, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(templateFuncs()).
		Parse(src)
	if err != nil {
		return nil, NewTemplateError(name, "parse", "failed to parse template", err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Render executes the template with vars.
func (t *Template) Render(vars map[string]string) (string, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", NewTemplateError(t.name, "render", "failed to execute template", err)
	}
	return buf.String(), nil
}

// templateFuncs returns the helpers available to body and subject templates.
// Comparison and boolean helpers come from text/template's builtins.
func templateFuncs() template.FuncMap {
	titleCaser := cases.Title(language.English)
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"title":     titleCaser.String,
		"trim":      strings.TrimSpace,
		"join":      strings.Join,
		"split":     strings.Split,
		"replace":   strings.ReplaceAll,
		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,
		"default": func(defaultValue, value string) string {
			if strings.TrimSpace(value) == "" {
				return defaultValue
			}
			return value
		},
	}
}

// compileVisual turns the visual source at location into markup.
func (c *Client) compileVisual(ctx context.Context, location, src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", ErrEmptyTemplate
	}
	res, err := c.compilerFor(location).Compile(ctx, src, c.config.Level)
	if err != nil {
		return "", NewTemplateError(filepath.Base(location), "compile", "failed to compile visual template", err)
	}
	if len(res.Diagnostics) > 0 {
		diag := &DiagnosticsError{
			Template:    filepath.Base(location),
			Diagnostics: res.Diagnostics,
		}
		if c.config.Level == LevelStrict {
			return "", diag
		}
		c.logger.WarnContext(ctx, "template has validation errors",
			slog.String("template", diag.Template),
			slog.String("level", string(c.config.Level)),
			slog.Any("error", diag),
		)
	}
	if strings.TrimSpace(res.HTML) == "" {
		return "", ErrEmptyTemplate
	}
	return res.HTML, nil
}

func (c *Client) compilerFor(location string) Compiler {
	ext := strings.ToLower(filepath.Ext(location))
	if comp, ok := c.compilers[ext]; ok {
		return comp
	}
	return c.compilers[""]
}
