package ui

import (
	"errors"
	"fmt"
	"strings"

	"julius/model"
	"julius/storage"
)

// FormatTranscript renders a stored exchange: each user message with its
// attachments, followed by the reply it produced.
func FormatTranscript(ex *storage.Exchange, width int) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(ex.Name))
	b.WriteString("\n")
	b.WriteString(DimStyle.Render(fmt.Sprintf("%s  %s  %s  %s",
		ex.ID, ex.StartedAt.Local().Format("2006-01-02 15:04"), ex.Provider, ex.SessionID)))
	b.WriteString("  ")
	b.WriteString(statusStyle(ex.Status).Render(ex.Status))
	b.WriteString("\n\n")

	replies := make(map[int]storage.StoredReply, len(ex.Replies))
	for _, r := range ex.Replies {
		replies[r.MessageIndex] = r
	}

	for _, msg := range ex.Conversation {
		if msg.Role != string(model.RoleUser) {
			continue
		}

		var files []string
		for _, f := range ex.Files {
			if f.MessageIndex == msg.Index {
				files = append(files, fmt.Sprintf("%s (%s)", f.Name, f.Status))
			}
		}
		b.WriteString(formatUserMessage(msg.Content, files))

		if r, ok := replies[msg.Index]; ok {
			b.WriteString(AssistantStyle.Render("Assistant"))
			b.WriteString("\n")
			b.WriteString(RenderMarkdown(r.Content, width))
			b.WriteString("\n\n")
		}
	}

	for _, w := range ex.Diagnostics {
		b.WriteString(WarningStyle.Render(fmt.Sprintf("warning: message %d: %s unit at offset %d: %s",
			w.MessageIndex, w.Kind, w.Offset, w.Reason)))
		b.WriteString("\n")
	}
	if ex.Error != "" {
		b.WriteString(ErrorStyle.Render("error: " + ex.Error))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func formatUserMessage(content string, files []string) string {
	bar := UserStyle.Render(codeBar)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", bar, UserStyle.Render("You"))
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&b, "%s %s\n", bar, line)
	}
	for _, f := range files {
		fmt.Fprintf(&b, "%s %s\n", bar, DimStyle.Render("+ "+f))
	}
	b.WriteString("\n")
	return b.String()
}

// FormatWarning renders a decode warning for stderr.
func FormatWarning(w model.DecodeWarning) string {
	return WarningStyle.Render("warning: " + w.String())
}

// FormatError renders an exchange failure, naming the stage when known.
func FormatError(err error) string {
	msg := err.Error()
	if stage, ok := model.StageOf(err); ok {
		msg = fmt.Sprintf("%s failed: %s", stage, msg)
	}
	var se *model.StageError
	if errors.As(err, &se) && se.StatusCode == 401 {
		msg += "\n" + DimStyle.Render("hint: check the API key (julius config set-key)")
	}
	return ErrorStyle.Render("error:") + " " + msg
}
