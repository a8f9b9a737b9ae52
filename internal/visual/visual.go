// Package visual compiles visual email sources (MJML, Markdown) into HTML markup.
// The markup still contains template actions; variable substitution happens later.
package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Boostport/mjml-go"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Level controls how strictly the source is validated.
type Level string

const (
	LevelStrict Level = "strict"
	LevelSoft   Level = "soft"
	LevelSkip   Level = "skip"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelStrict, LevelSoft, LevelSkip:
		return true
	default:
		return false
	}
}

// Diagnostic is one validation message. Line is 0 when the compiler gave none.
type Diagnostic struct {
	Line    int
	Tag     string
	Message string
}

// String formats the diagnostic the way compile errors are reported.
func (d Diagnostic) String() string {
	switch {
	case d.Line > 0 && d.Tag != "":
		return fmt.Sprintf("Line %d (%s): %s", d.Line, d.Tag, d.Message)
	case d.Line > 0:
		return fmt.Sprintf("Line %d: %s", d.Line, d.Message)
	default:
		return d.Message
	}
}

// Result is the output of a compile: markup plus any diagnostics.
type Result struct {
	HTML        string
	Diagnostics []Diagnostic
}

// Compiler turns visual source into HTML markup.
type Compiler interface {
	Compile(ctx context.Context, source string, level Level) (*Result, error)
}

// MJML compiles MJML documents with the embedded mjml engine.
type MJML struct {
	Minify bool
}

// Compile runs mjml over source. Validation failures come back as diagnostics, not errors.
// Under LevelSoft the result carries both the diagnostics and the markup.
func (m MJML) Compile(ctx context.Context, source string, level Level) (*Result, error) {
	out, err := m.toHTML(ctx, source, level)
	if err == nil {
		return &Result{HTML: out}, nil
	}

	var mjErr mjml.Error
	if !errors.As(err, &mjErr) {
		return nil, fmt.Errorf("mjml: %w", err)
	}

	res := &Result{HTML: out}
	if level == LevelSoft {
		// mjml withholds the markup whenever it reports errors.
		if res.HTML, err = m.toHTML(ctx, source, LevelSkip); err != nil {
			return nil, fmt.Errorf("mjml: %w", err)
		}
	}
	for _, d := range mjErr.Details {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Line:    d.Line,
			Tag:     d.TagName,
			Message: d.Message,
		})
	}
	if len(res.Diagnostics) == 0 {
		res.Diagnostics = []Diagnostic{{Message: mjErr.Message}}
	}
	return res, nil
}

func (m MJML) toHTML(ctx context.Context, source string, level Level) (string, error) {
	return mjml.ToHTML(ctx, source,
		mjml.WithMinify(m.Minify),
		mjml.WithValidationLevel(mjmlLevel(level)),
	)
}

func mjmlLevel(level Level) mjml.ValidationLevel {
	switch level {
	case LevelSoft:
		return mjml.Soft
	case LevelSkip:
		return mjml.Skip
	default:
		return mjml.Strict
	}
}

// Markdown compiles Markdown (with GFM tables and raw HTML) into a minimal HTML document.
// Quoted string literals inside template actions are entity-escaped by the renderer,
// so markdown templates should stick to field references and bare functions.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a Markdown compiler.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Compile converts source. Level is ignored; Markdown has no validation step.
func (m *Markdown) Compile(_ context.Context, source string, _ Level) (*Result, error) {
	if len(bytes.TrimSpace([]byte(source))) == 0 {
		return &Result{}, nil
	}

	var body bytes.Buffer
	if err := m.md.Convert([]byte(source), &body); err != nil {
		return nil, fmt.Errorf("markdown: %w", err)
	}

	var doc bytes.Buffer
	doc.WriteString("<!doctype html>\n<html>\n<head><meta charset=\"utf-8\"></head>\n<body>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")

	return &Result{HTML: doc.String()}, nil
}
