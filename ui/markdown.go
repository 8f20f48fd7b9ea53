package ui

import (
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
)

// DefaultWidth is used when the terminal width is unknown or too narrow.
const DefaultWidth = 80

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
	ansiRegex       = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

const codeBar = "┃"

// RenderMarkdown renders assistant output for a terminal of the given width.
// Plain URLs stay plain text so the terminal can make them clickable.
func RenderMarkdown(content string, width int) string {
	if width < 20 {
		width = DefaultWidth
	}

	content = preprocessLinks(content)

	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width-4, 0)
	rendered := gomarkdown.Render(p.Parse([]byte(content)), r)

	return postProcessMarkdown(string(rendered), width)
}

func postProcessMarkdown(rendered string, width int) string {
	// Inline code: blue background becomes red text
	rendered = fixInlineCode(rendered)
	rendered = colorURLs(rendered)
	rendered = frameCodeBlocks(rendered, width)
	return strings.TrimRight(rendered, "\n")
}

// preprocessLinks strips [text](url) down to the bare url.
func preprocessLinks(content string) string {
	return mdLinkRegex.ReplaceAllString(content, "$2")
}

func fixInlineCode(s string) string {
	return inlineCodeRegex.ReplaceAllString(s, "\x1b[31m$1\x1b[0m")
}

func colorURLs(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.Contains(line, codeBar) {
			lines[i] = urlRegex.ReplaceAllString(line, "\x1b[31m$1\x1b[0m")
		}
	}
	return strings.Join(lines, "\n")
}

// frameCodeBlocks replaces the renderer's per-line bar with a labelled frame.
func frameCodeBlocks(s string, width int) string {
	darkGray := "\x1b[90m"
	reset := "\x1b[0m"
	lineLen := width - 4

	label := "[code]"
	left := (lineLen - len(label)) / 2
	top := darkGray + strings.Repeat("━", left) + reset + label + darkGray + strings.Repeat("━", lineLen-len(label)-left) + reset
	bottom := darkGray + strings.Repeat("━", lineLen) + reset

	var result []string
	inCodeBlock := false
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, codeBar) {
			if !inCodeBlock {
				inCodeBlock = true
				result = append(result, "", top, "")
			}
			result = append(result, stripCodeBlockPrefix(line))
			continue
		}
		if inCodeBlock {
			result = append(result, "", bottom, "")
			inCodeBlock = false
		}
		result = append(result, line)
	}
	if inCodeBlock {
		result = append(result, "", bottom, "")
	}
	return strings.Join(result, "\n")
}

func stripCodeBlockPrefix(line string) string {
	idx := strings.Index(line, codeBar)
	if idx < 0 {
		return line
	}
	after := idx + len(codeBar)
	if after < len(line) && line[after] == ' ' {
		after++
	}
	return line[after:]
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}
