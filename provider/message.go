package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"julius/model"
)

type messagePayload struct {
	Message           messageContent             `json:"message"`
	Provider          string                     `json:"provider"`
	ChatMode          string                     `json:"chat_mode"`
	ClientVersion     string                     `json:"client_version"`
	Theme             string                     `json:"theme"`
	DataframeFormat   string                     `json:"dataframe_format"`
	NewAttachments    map[string]attachmentEntry `json:"new_attachments"`
	SelectedModels    []string                   `json:"selectedModels"`
	AdvancedReasoning bool                       `json:"advanced_reasoning,omitempty"`
}

type messageContent struct {
	Content string `json:"content"`
}

type attachmentEntry struct {
	Name            string `json:"name"`
	IsUploading     bool   `json:"isUploading"`
	PercentComplete int    `json:"percentComplete"`
}

func (c *Client) buildPayload(req model.MessageRequest) messagePayload {
	provider := req.Provider
	if provider == "" {
		provider = model.DefaultProvider
	}

	attachments := make(map[string]attachmentEntry, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments[a.Name] = attachmentEntry{Name: a.Name, PercentComplete: 100}
	}

	return messagePayload{
		Message:           messageContent{Content: req.Content},
		Provider:          provider,
		ChatMode:          c.cfg.ChatMode,
		ClientVersion:     c.cfg.ClientVersion,
		Theme:             c.cfg.Theme,
		DataframeFormat:   c.cfg.DataframeFormat,
		NewAttachments:    attachments,
		AdvancedReasoning: req.AdvancedReasoning,
	}
}

// Dispatch implements model.Backend. On success the caller owns the returned
// body; it is also released when ctx is cancelled.
func (c *Client) Dispatch(ctx context.Context, session model.Session, req model.MessageRequest) (io.ReadCloser, error) {
	for _, a := range req.Attachments {
		if !a.Registered() {
			return nil, &model.StageError{
				Stage: model.StageSend,
				Err:   fmt.Errorf("attachment %q is %s, not registered", a.Name, a.Status),
			}
		}
	}

	payload, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, &model.StageError{Stage: model.StageSend, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat/message", bytes.NewReader(payload))
	if err != nil {
		return nil, &model.StageError{Stage: model.StageSend, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.rc.WithSession(session.ID).apply(httpReq.Header)

	c.log.Debug("HTTP POST /api/chat/message",
		zap.String("session_id", session.ID),
		zap.Int("attachments", len(req.Attachments)),
		zap.Bool("advanced_reasoning", req.AdvancedReasoning))

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &model.StageError{Stage: model.StageSend, Err: err}
	}

	if err := checkStatus(model.StageSend, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}
