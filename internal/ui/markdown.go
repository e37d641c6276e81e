package ui

import (
	"github.com/charmbracelet/glamour"
)

// maxReadableWidth caps the wrap width on wide terminals.
const maxReadableWidth = 100

// RenderMarkdown renders markdown for the terminal. Without color support, or
// when rendering fails, the text is returned unchanged.
func RenderMarkdown(markdown string) string {
	if markdown == "" || !ShouldUseColor() {
		return markdown
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(TerminalWidth(80), maxReadableWidth)),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
