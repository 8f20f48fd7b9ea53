package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"julius/model"
)

type startSessionRequest struct {
	Provider         string          `json:"provider"`
	ServerType       string          `json:"server_type"`
	TemplateID       *string         `json:"template_id"`
	ChatType         *string         `json:"chat_type"`
	ConversationPlan *string         `json:"conversation_plan"`
	ToolPreferences  toolPreferences `json:"tool_preferences"`
}

type toolPreferences struct {
	Model *string `json:"model"`
}

type startSessionResponse struct {
	ID string `json:"id"`
}

// StartSession implements model.Backend. An empty hint selects the backend's
// default model and leaves the tool model preference unset. No retries.
func (c *Client) StartSession(ctx context.Context, modelHint string) (model.Session, error) {
	provider := modelHint
	if provider == "" {
		provider = model.DefaultProvider
	}

	req := startSessionRequest{
		Provider:   provider,
		ServerType: c.cfg.ServerType,
	}
	if provider != model.DefaultProvider {
		req.ToolPreferences.Model = &provider
	}

	var resp startSessionResponse
	if err := c.postJSON(ctx, model.StageSession, c.rc, "/api/chat/start", req, &resp); err != nil {
		return model.Session{}, err
	}
	if resp.ID == "" {
		return model.Session{}, &model.StageError{
			Stage: model.StageSession,
			Err:   errors.New("response did not include a session id"),
		}
	}

	c.log.Debug("session started", zap.String("session_id", resp.ID), zap.String("provider", provider))

	return model.Session{
		ID:        resp.ID,
		Provider:  provider,
		CreatedAt: time.Now(),
	}, nil
}
