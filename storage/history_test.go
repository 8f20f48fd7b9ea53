package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julius/model"
	"julius/provider/testutil"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { hs.Close() })
	return hs
}

func completeRecord(id string, started time.Time, content string) model.ExchangeRecord {
	c := &model.Completion{ExchangeID: id, SessionID: "conv-1"}
	c.Append(model.Reply{MessageIndex: 0, Content: "reply: " + content, Fragments: 2})
	return model.ExchangeRecord{
		ID:         id,
		SessionID:  "conv-1",
		Provider:   "gpt-4o",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Messages:   []model.Message{model.UserMessage(content)},
		Completion: c,
	}
}

func TestHistoryStore_SaveAndLoad(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	c := &model.Completion{ExchangeID: "ex-1", SessionID: "conv-1"}
	c.Append(model.Reply{MessageIndex: 0, Content: "Revenue grew.", Fragments: 3})
	c.Append(model.Reply{MessageIndex: 2, Content: " Costs fell.", Fragments: 1})
	c.Warnings = []model.DecodeWarning{{
		Kind: model.WarningMalformed, MessageIndex: 2, Offset: 21, Reason: "invalid json", Unit: "{bad}",
	}}

	rec := model.ExchangeRecord{
		ID:         "ex-1",
		SessionID:  "conv-1",
		Provider:   "claude-3-5-sonnet",
		StartedAt:  started,
		FinishedAt: started.Add(5 * time.Second),
		Messages: []model.Message{
			model.UserMessage("Summarize sales.csv"),
			{Role: model.RoleAssistant, Content: "earlier answer"},
			{Role: model.RoleUser, Content: "And costs?", AdvancedReasoning: true},
		},
		Attachments: []model.RecordedAttachment{{
			MessageIndex: 0,
			Attachment:   model.Attachment{Source: "sales.csv", Name: "sales.csv", MimeType: "text/csv", Status: model.AttachmentRegistered},
		}},
		Completion: c,
	}
	require.NoError(t, hs.SaveExchange(ctx, rec))

	ex, err := hs.LoadExchange(ctx, "ex-1")
	require.NoError(t, err)

	assert.Equal(t, "ex-1", ex.ID)
	assert.Equal(t, "conv-1", ex.SessionID)
	assert.Equal(t, "Summarize sales.csv", ex.Name)
	assert.Equal(t, "claude-3-5-sonnet", ex.Provider)
	assert.Equal(t, StatusWithWarnings, ex.Status)
	assert.Equal(t, "Revenue grew. Costs fell.", ex.Content)
	assert.True(t, ex.StartedAt.Equal(started))
	assert.Empty(t, ex.Error)
	assert.Equal(t, -1, ex.ErrorMessage)

	assert.Equal(t, 3, ex.Messages)
	assert.Equal(t, 1, ex.Attachments)
	assert.Equal(t, 1, ex.Warnings)

	require.Len(t, ex.Conversation, 3)
	assert.Equal(t, StoredMessage{Index: 2, Role: "user", Content: "And costs?", AdvancedReasoning: true}, ex.Conversation[2])

	assert.Equal(t, []StoredReply{
		{MessageIndex: 0, Content: "Revenue grew.", Fragments: 3},
		{MessageIndex: 2, Content: " Costs fell.", Fragments: 1},
	}, ex.Replies)
	assert.Equal(t, []StoredAttachment{
		{MessageIndex: 0, Name: "sales.csv", Source: "sales.csv", MimeType: "text/csv", Status: "registered"},
	}, ex.Files)
	assert.Equal(t, []StoredWarning{
		{MessageIndex: 2, Kind: "malformed", Offset: 21, Reason: "invalid json", Unit: "{bad}"},
	}, ex.Diagnostics)
}

func TestHistoryStore_SaveFailedExchange(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()

	cause := &model.StageError{Stage: model.StagePreprocess, StatusCode: 500, Body: "boom"}
	rec := model.ExchangeRecord{
		ID:        "ex-failed",
		SessionID: "conv-2",
		StartedAt: time.Now(),
		Messages:  []model.Message{model.UserMessage("first"), model.UserMessage("second")},
		Err:       &model.ExchangeError{MessageIndex: 1, Attachment: "data.csv", Stage: model.StagePreprocess, Err: cause},
	}
	require.NoError(t, hs.SaveExchange(ctx, rec))

	ex, err := hs.LoadExchange(ctx, "ex-failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ex.Status)
	assert.Equal(t, string(model.StagePreprocess), ex.ErrorStage)
	assert.Equal(t, 1, ex.ErrorMessage)
	assert.Contains(t, ex.Error, "data.csv")
	assert.Empty(t, ex.Content)
	assert.Empty(t, ex.Replies)
}

func TestHistoryStore_SaveReplaces(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()
	started := time.Now()

	require.NoError(t, hs.SaveExchange(ctx, completeRecord("ex-1", started, "one")))
	require.NoError(t, hs.SaveExchange(ctx, completeRecord("ex-1", started, "two")))

	ex, err := hs.LoadExchange(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "reply: two", ex.Content)
	assert.Len(t, ex.Conversation, 1)
	assert.Len(t, ex.Replies, 1)

	list, err := hs.ListExchanges(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHistoryStore_ListExchanges(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		require.NoError(t, hs.SaveExchange(ctx, completeRecord(id, base.Add(offsets[i]), id)))
	}

	list, err := hs.ListExchanges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"newest", "middle", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, StatusComplete, list[0].Status)
	assert.Equal(t, 1, list[0].Messages)

	list, err = hs.ListExchanges(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestHistoryStore_ResolveID(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"abc111", "abc222", "def333"} {
		require.NoError(t, hs.SaveExchange(ctx, completeRecord(id, time.Now(), id)))
	}

	id, err := hs.ResolveID(ctx, "def")
	require.NoError(t, err)
	assert.Equal(t, "def333", id)

	_, err = hs.ResolveID(ctx, "abc")
	assert.ErrorIs(t, err, ErrAmbiguousExchange)

	_, err = hs.ResolveID(ctx, "zzz")
	assert.ErrorIs(t, err, ErrExchangeNotFound)

	_, err = hs.LoadExchange(ctx, "")
	assert.ErrorIs(t, err, ErrExchangeNotFound)

	ex, err := hs.LoadExchange(ctx, "abc2")
	require.NoError(t, err)
	assert.Equal(t, "abc222", ex.ID)
}

func TestHistoryStore_RecordsOrchestratorExchange(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()

	b := testutil.NewMockBackend()
	o := model.NewOrchestrator(b, model.OrchestratorConfig{Policy: model.DefaultPolicy(), Recorder: hs})

	c, err := o.Completion(ctx, model.Request{
		ModelHint: "gpt-4o",
		Messages:  testutil.SingleUserMessage("How many rows?"),
	})
	require.NoError(t, err)

	ex, err := hs.LoadExchange(ctx, c.ExchangeID)
	require.NoError(t, err)
	assert.Equal(t, c.SessionID, ex.SessionID)
	assert.Equal(t, "gpt-4o", ex.Provider)
	assert.Equal(t, c.Content, ex.Content)

	var provider string
	require.NoError(t, hs.db.QueryRowContext(ctx, `SELECT provider FROM sessions WHERE id = ?`, c.SessionID).Scan(&provider))
	assert.Equal(t, "gpt-4o", provider)
}

func TestHistoryStore_MigrationIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	for i := 0; i < 2; i++ {
		hs, err := OpenHistoryStore(dbPath, nil)
		require.NoError(t, err)

		exists, err := hs.columnExists("exchanges", "error_stage")
		require.NoError(t, err)
		assert.True(t, exists)
		require.NoError(t, hs.Close())
	}
}

func TestSearchExchanges(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, hs.SaveExchange(ctx, completeRecord("ex-old", base, "Plot REVENUE by month")))
	require.NoError(t, hs.SaveExchange(ctx, completeRecord("ex-new", base.Add(time.Hour), "count the rows")))

	matches, err := hs.SearchExchanges(ctx, "revenue")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "ex-old", matches[0].ExchangeID)
	assert.Equal(t, SourceMessage, matches[0].Source)
	assert.Equal(t, "Plot REVENUE by month", matches[0].Preview)
	assert.Equal(t, SourceReply, matches[1].Source)
	assert.Equal(t, "assistant", matches[1].Role)

	matches, err = hs.SearchExchanges(ctx, "reply:")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "ex-new", matches[0].ExchangeID, "newest first")

	matches, err = hs.SearchExchanges(ctx, "100%")
	require.NoError(t, err)
	assert.Empty(t, matches, "wildcards in the query are literal")

	matches, err = hs.SearchExchanges(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 120)
	assert.Equal(t, strings.Repeat("é", 100)+"...", preview(long, 100))
	assert.Equal(t, "a b", preview("a\n\n  b", 100))
}

func TestExportToJSON(t *testing.T) {
	hs := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 7, 4, 12, 30, 0, 0, time.UTC)
	require.NoError(t, hs.SaveExchange(ctx, completeRecord("ex-export", started, "Export me")))

	ex, err := hs.LoadExchange(ctx, "ex-export")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "exports")
	path := GenerateExportPath(dir, ex)
	assert.Equal(t, filepath.Join(dir, "julius-Export-me-20260704-123000.json"), path)

	require.NoError(t, hs.ExportToJSON(ctx, "ex-exp", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "ex-export", decoded["id"])
	assert.Equal(t, "reply: Export me", decoded["content"])
	assert.Len(t, decoded["messages"], 1)

	err = hs.ExportToJSON(ctx, "missing", filepath.Join(dir, "x.json"))
	assert.True(t, errors.Is(err, ErrExchangeNotFound))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Sales report", "Sales-report"},
		{"a/b\\c:d", "a-b-c-d"},
		{"  ..hidden", "hidden"},
		{"", "exchange"},
		{"???", "exchange"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestGenerateExchangeName(t *testing.T) {
	assert.Equal(t, "Plot revenue", GenerateExchangeName("  Plot\nrevenue "))
	assert.Equal(t, strings.Repeat("a", 30)+"...", GenerateExchangeName(strings.Repeat("a", 31)))
	assert.True(t, strings.HasPrefix(GenerateExchangeName(""), "Exchange "))
}
