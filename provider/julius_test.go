package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julius/model"
	"julius/provider/testutil"
)

func newTestClient(t *testing.T, srv *testutil.MockServer) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewClient(ClientConfig{APIKey: "k", BaseURL: "https://example.test/"})
		require.NoError(t, err)
		assert.Equal(t, "https://example.test", c.BaseURL())
		assert.Equal(t, DefaultOrigin, c.cfg.Origin)
		assert.Equal(t, DefaultServerType, c.cfg.ServerType)
		assert.Equal(t, defaultRequestTimeout, c.cfg.RequestTimeout)
	})
}

func TestRequestContext(t *testing.T) {
	base := NewRequestContext("secret", "https://julius.ai")
	scoped := base.WithSession("conv-1")

	assert.Empty(t, base.SessionID(), "WithSession must not modify the receiver")
	assert.Equal(t, "conv-1", scoped.SessionID())

	h := http.Header{}
	scoped.apply(h)
	assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	assert.Equal(t, "https://julius.ai", h.Get("Origin"))
	assert.Equal(t, "conv-1", h.Get("conversation-id"))

	h = http.Header{}
	base.apply(h)
	assert.Empty(t, h.Get("conversation-id"))
}

func TestStartSession(t *testing.T) {
	t.Run("default model", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		c := newTestClient(t, srv)

		session, err := c.StartSession(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "conv-123", session.ID)
		assert.Equal(t, model.DefaultProvider, session.Provider)

		calls := srv.Calls(testutil.PathStart)
		require.Len(t, calls, 1)
		body := calls[0].JSON(t)
		assert.Equal(t, "default", body["provider"])
		assert.Equal(t, "CPU", body["server_type"])
		assert.Nil(t, body["template_id"])
		assert.Equal(t, map[string]any{"model": nil}, body["tool_preferences"])
		assert.Equal(t, "Bearer test-key", calls[0].Header.Get("Authorization"))
		assert.Equal(t, DefaultOrigin, calls[0].Header.Get("Origin"))
		assert.Empty(t, calls[0].Header.Get("conversation-id"))
	})

	t.Run("explicit model", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		c := newTestClient(t, srv)

		session, err := c.StartSession(context.Background(), "o1-mini")
		require.NoError(t, err)
		assert.Equal(t, "o1-mini", session.Provider)

		body := srv.Calls(testutil.PathStart)[0].JSON(t)
		assert.Equal(t, "o1-mini", body["provider"])
		assert.Equal(t, map[string]any{"model": "o1-mini"}, body["tool_preferences"])
	})

	t.Run("server error", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		srv.Fail(testutil.PathStart, http.StatusUnauthorized)
		c := newTestClient(t, srv)

		_, err := c.StartSession(context.Background(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrSessionCreation)

		var se *model.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
		assert.Contains(t, se.Body, "injected failure")
	})

	t.Run("missing id", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		srv.SetSessionID("")
		c := newTestClient(t, srv)

		_, err := c.StartSession(context.Background(), "")
		assert.ErrorIs(t, err, model.ErrSessionCreation)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		c := newTestClient(t, srv)
		srv.Close()

		_, err := c.StartSession(context.Background(), "")
		assert.ErrorIs(t, err, model.ErrSessionCreation)
	})
}

func TestDispatch(t *testing.T) {
	session := model.Session{ID: "conv-9", Provider: model.DefaultProvider}

	t.Run("payload without attachments", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		srv.SetStream(testutil.FragmentStream("hi")...)
		c := newTestClient(t, srv)

		body, err := c.Dispatch(context.Background(), session, model.MessageRequest{Content: "Summarize"})
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		require.NoError(t, body.Close())
		assert.Equal(t, `{"content":"hi"}`, string(data))

		calls := srv.Calls(testutil.PathMessage)
		require.Len(t, calls, 1)
		assert.Equal(t, "conv-9", calls[0].Header.Get("conversation-id"))
		assert.Equal(t, "Bearer test-key", calls[0].Header.Get("Authorization"))

		payload := calls[0].JSON(t)
		assert.Equal(t, map[string]any{"content": "Summarize"}, payload["message"])
		assert.Equal(t, "default", payload["provider"])
		assert.Equal(t, "auto", payload["chat_mode"])
		assert.Equal(t, "20240130", payload["client_version"])
		assert.Equal(t, "light", payload["theme"])
		assert.Equal(t, "json", payload["dataframe_format"])
		assert.Equal(t, map[string]any{}, payload["new_attachments"])
		assert.Contains(t, payload, "selectedModels")
		assert.Nil(t, payload["selectedModels"])
		assert.NotContains(t, payload, "advanced_reasoning")
	})

	t.Run("payload with attachments and reasoning", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		c := newTestClient(t, srv)

		body, err := c.Dispatch(context.Background(), session, model.MessageRequest{
			Content:           "Compare",
			Provider:          "o1-mini",
			AdvancedReasoning: true,
			Attachments: []model.Attachment{
				{Name: "q1 sales.csv", Status: model.AttachmentRegistered},
				{Name: "q2.csv", Status: model.AttachmentRegistered},
			},
		})
		require.NoError(t, err)
		body.Close()

		payload := srv.Calls(testutil.PathMessage)[0].JSON(t)
		assert.Equal(t, "o1-mini", payload["provider"])
		assert.Equal(t, true, payload["advanced_reasoning"])
		assert.Equal(t, map[string]any{
			"q1 sales.csv": map[string]any{"name": "q1 sales.csv", "isUploading": false, "percentComplete": float64(100)},
			"q2.csv":       map[string]any{"name": "q2.csv", "isUploading": false, "percentComplete": float64(100)},
		}, payload["new_attachments"])
	})

	t.Run("rejects unregistered attachment", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		c := newTestClient(t, srv)

		_, err := c.Dispatch(context.Background(), session, model.MessageRequest{
			Content:     "x",
			Attachments: []model.Attachment{{Name: "a.csv", Status: model.AttachmentFailed}},
		})
		assert.ErrorIs(t, err, model.ErrMessageSend)
		assert.Empty(t, srv.Calls(testutil.PathMessage))
	})

	t.Run("server error", func(t *testing.T) {
		srv := testutil.NewMockServer(t)
		srv.Fail(testutil.PathMessage, http.StatusBadGateway)
		c := newTestClient(t, srv)

		_, err := c.Dispatch(context.Background(), session, model.MessageRequest{Content: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrMessageSend)
		stage, ok := model.StageOf(err)
		assert.True(t, ok)
		assert.Equal(t, model.StageSend, stage)
	})
}

func TestDispatchAndDecode(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.SetStream(`{"content":"Col A "}`, `{"content":"avg=5"}`)
	c := newTestClient(t, srv)

	body, err := c.Dispatch(context.Background(), model.Session{ID: "conv-1"}, model.MessageRequest{Content: "avg?"})
	require.NoError(t, err)
	defer body.Close()

	result, err := c.NewDecoder().Consume(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, "Col A avg=5", result.Content)
	assert.Empty(t, result.Warnings)
}

func TestCheckStatusTruncatesBody(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.Fail(testutil.PathPreprocess, http.StatusInternalServerError)
	c := newTestClient(t, srv)

	err := c.preprocess(context.Background(), "a.csv")
	var se *model.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, model.StagePreprocess, se.Stage)
	assert.LessOrEqual(t, len(se.Body), maxErrorBodyBytes)
}
