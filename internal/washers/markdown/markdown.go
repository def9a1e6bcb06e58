// Package markdown is a transform that renders Markdown item text to HTML.
package markdown

import (
	"bytes"
	"context"
	"fmt"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/washer/internal/htmltext"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/settings"
	"git.home.luguber.info/inful/washer/internal/washer"
)

const (
	settingField = "field"

	fieldText    = "text"
	fieldSummary = "summary"
)

var Type = washer.Type{
	Name:        "markdown",
	Title:       "Markdown",
	Description: "Renders the Markdown text of each item as HTML.",
	Kind:        washer.KindTransform,
	Settings: washer.TransformSettings.With(
		settings.Option{Name: settingField, Description: "Item field holding Markdown", Default: fieldText, Parse: settings.OneOf(fieldText, fieldSummary)},
	),
	New: New,
}

// Renderer is the stage implementation.
type Renderer struct {
	*washer.Base
	md goldmark.Markdown
}

func New(b *washer.Base) (washer.Washer, error) {
	return &Renderer{Base: b, md: goldmark.New(goldmark.WithExtensions(extension.GFM))}, nil
}

// Run renders the configured field of every item. Items with an empty field
// pass through unchanged.
func (r *Renderer) Run(_ context.Context, in []model.Item) ([]model.Item, error) {
	field := r.Settings.String(settingField)
	out := make([]model.Item, 0, len(in))
	for _, item := range in {
		src := item.Text
		if field == fieldSummary {
			src = item.Summary
		}
		if src == "" {
			out = append(out, item)
			continue
		}
		html, image, err := r.render([]byte(src))
		if err != nil {
			return out, fmt.Errorf("render %s: %w", item.URL, err)
		}
		item.HTML = html
		if item.Image == "" {
			item.Image = htmltext.Resolve(image, item.URL)
		}
		out = append(out, item)
	}
	return out, nil
}

// render converts src and reports the destination of the first image.
func (r *Renderer) render(src []byte) (string, string, error) {
	root := r.md.Parser().Parse(text.NewReader(src))

	var image string
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if img, ok := n.(*gmast.Image); ok && entering {
			image = string(img.Destination)
			return gmast.WalkStop, nil
		}
		return gmast.WalkContinue, nil
	})

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, src, root); err != nil {
		return "", "", err
	}
	return buf.String(), image, nil
}
