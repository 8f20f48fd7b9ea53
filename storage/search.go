package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match sources.
const (
	SourceMessage = "message"
	SourceReply   = "reply"
)

type ExchangeMatch struct {
	ExchangeID   string
	ExchangeName string
	Source       string
	MessageIndex int
	Role         string
	Preview      string
	StartedAt    time.Time
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchExchanges finds exchanges whose user messages or replies contain
// query, case-insensitively. Newest exchanges come first.
func (hs *HistoryStore) SearchExchanges(ctx context.Context, query string) ([]ExchangeMatch, error) {
	if strings.TrimSpace(query) == "" {
		return []ExchangeMatch{}, nil
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"

	matches := []ExchangeMatch{}
	searches := []struct {
		source string
		query  string
	}{
		{SourceMessage, `SELECT e.id, e.name, e.started_at, m.idx, m.role, m.content
			FROM messages m JOIN exchanges e ON e.id = m.exchange_id
			WHERE lower(m.content) LIKE ? ESCAPE '\'`},
		{SourceReply, `SELECT e.id, e.name, e.started_at, r.message_index, 'assistant', r.content
			FROM replies r JOIN exchanges e ON e.id = r.exchange_id
			WHERE lower(r.content) LIKE ? ESCAPE '\'`},
	}
	for _, search := range searches {
		err := queryEach(ctx, hs.db, search.query, pattern, func(rows *sql.Rows) error {
			m := ExchangeMatch{Source: search.source}
			var content string
			if err := rows.Scan(&m.ExchangeID, &m.ExchangeName, &m.StartedAt, &m.MessageIndex, &m.Role, &content); err != nil {
				return err
			}
			m.Preview = preview(content, 100)
			matches = append(matches, m)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search %ss: %w", search.source, err)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.After(b.StartedAt)
		}
		if a.ExchangeID != b.ExchangeID {
			return a.ExchangeID < b.ExchangeID
		}
		if a.MessageIndex != b.MessageIndex {
			return a.MessageIndex < b.MessageIndex
		}
		return a.Source == SourceMessage && b.Source == SourceReply
	})
	return matches, nil
}

func preview(content string, limit int) string {
	content = strings.Join(strings.Fields(content), " ")
	if r := []rune(content); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return content
}
