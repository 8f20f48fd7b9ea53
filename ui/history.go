package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"julius/storage"
)

const (
	idWidth     = 8
	dateWidth   = 16
	statusWidth = 22
)

// HistoryTable renders exchange summaries as a fixed-width table. Names are
// truncated by display width so wide runes keep the columns aligned.
func HistoryTable(list []storage.ExchangeSummary, width int) string {
	if len(list) == 0 {
		return DimStyle.Render("No exchanges recorded yet.") + "\n"
	}
	if width < 20 {
		width = DefaultWidth
	}
	nameWidth := max(width-idWidth-dateWidth-statusWidth-6-3, 10)

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(strings.Join([]string{
		pad("ID", idWidth), pad("STARTED", dateWidth), pad("STATUS", statusWidth), "NAME",
	}, "  ")))
	b.WriteString("\n")

	for _, s := range list {
		id := s.ID
		if len(id) > idWidth {
			id = id[:idWidth]
		}
		name := s.Name
		if s.Attachments > 0 {
			name = fmt.Sprintf("%s [%d files]", name, s.Attachments)
		}

		b.WriteString(strings.Join([]string{
			pad(id, idWidth),
			DimStyle.Render(pad(s.StartedAt.Local().Format("2006-01-02 15:04"), dateWidth)),
			statusStyle(s.Status).Render(pad(s.Status, statusWidth)),
			runewidth.Truncate(name, nameWidth, "..."),
		}, "  "))
		b.WriteString("\n")
	}
	return b.String()
}

// SearchResults renders search matches grouped under their exchange.
func SearchResults(query string, matches []storage.ExchangeMatch, width int) string {
	if len(matches) == 0 {
		return DimStyle.Render(fmt.Sprintf("No matches for %q.", query)) + "\n"
	}
	if width < 20 {
		width = DefaultWidth
	}

	var b strings.Builder
	current := ""
	for _, m := range matches {
		if m.ExchangeID != current {
			if current != "" {
				b.WriteString("\n")
			}
			current = m.ExchangeID
			short := m.ExchangeID
			if len(short) > idWidth {
				short = short[:idWidth]
			}
			fmt.Fprintf(&b, "%s %s\n", HeaderStyle.Render(short), TitleStyle.Render(m.ExchangeName))
		}

		label := UserStyle.Render("You")
		if m.Source == storage.SourceReply {
			label = AssistantStyle.Render("Assistant")
		}
		prefix := fmt.Sprintf("  #%d %s: ", m.MessageIndex, label)
		avail := max(width-runewidth.StringWidth(StripANSI(prefix)), 10)
		b.WriteString(prefix + highlight(runewidth.Truncate(m.Preview, avail, "..."), query))
		b.WriteString("\n")
	}
	return b.String()
}

// highlight marks case-insensitive occurrences of query in s.
func highlight(s, query string) string {
	if query == "" {
		return s
	}
	lower := strings.ToLower(s)
	q := strings.ToLower(query)
	if len(lower) != len(s) {
		return s
	}

	var b strings.Builder
	for {
		i := strings.Index(lower, q)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(HighlightStyle.Render(s[i : i+len(q)]))
		s, lower = s[i+len(q):], lower[i+len(q):]
	}
}

func pad(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
