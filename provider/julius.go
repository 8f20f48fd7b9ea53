package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"julius/model"
)

const (
	DefaultBaseURL         = "https://api.julius.ai"
	DefaultOrigin          = "https://julius.ai"
	DefaultServerType      = "CPU"
	DefaultChatMode        = "auto"
	DefaultClientVersion   = "20240130"
	DefaultTheme           = "light"
	DefaultDataframeFormat = "json"

	defaultRequestTimeout   = 2 * time.Minute
	defaultReadBufferSize   = 4 * 1024
	defaultMaxFragmentBytes = 8 * 1024 * 1024
	maxErrorBodyBytes       = 4 * 1024
)

// ClientConfig is the immutable configuration of a Client. Zero fields take
// the package defaults.
type ClientConfig struct {
	BaseURL string
	Origin  string
	APIKey  string

	HTTPClient *http.Client

	// RequestTimeout bounds each non-streaming call. The message stream is
	// bounded only by the caller's context.
	RequestTimeout time.Duration

	ServerType      string
	ChatMode        string
	ClientVersion   string
	Theme           string
	DataframeFormat string

	ReadBufferSize   int
	MaxFragmentBytes int

	Logger *zap.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ServerType == "" {
		c.ServerType = DefaultServerType
	}
	if c.ChatMode == "" {
		c.ChatMode = DefaultChatMode
	}
	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}
	if c.Theme == "" {
		c.Theme = DefaultTheme
	}
	if c.DataframeFormat == "" {
		c.DataframeFormat = DefaultDataframeFormat
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.MaxFragmentBytes <= 0 {
		c.MaxFragmentBytes = defaultMaxFragmentBytes
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Client implements model.Backend over HTTP.
type Client struct {
	cfg ClientConfig
	rc  RequestContext
	log *zap.Logger
}

var _ model.Backend = (*Client)(nil)

// NewClient creates a Julius client. The API key is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Julius API key is required")
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg: cfg,
		rc:  NewRequestContext(cfg.APIKey, cfg.Origin),
		log: cfg.Logger,
	}, nil
}

// BaseURL returns the API base address the client talks to.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// NewDecoder implements model.Backend.
func (c *Client) NewDecoder() model.Decoder {
	return NewStreamDecoder(DecoderOptions{
		ReadBufferSize:   c.cfg.ReadBufferSize,
		MaxFragmentBytes: c.cfg.MaxFragmentBytes,
		Logger:           c.log,
	})
}

// postJSON sends a JSON body and decodes a JSON response into out (if non-nil).
// Every failure is a *model.StageError for the given stage.
func (c *Client) postJSON(ctx context.Context, stage model.Stage, rc RequestContext, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &model.StageError{Stage: stage, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &model.StageError{Stage: stage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	rc.apply(req.Header)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		c.log.Debug("HTTP request failed", zap.String("path", path), zap.Error(err))
		return &model.StageError{Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("HTTP POST", zap.String("path", path), zap.Int("status", resp.StatusCode))

	if err := checkStatus(stage, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.StageError{
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to parse response: %w", err),
		}
	}
	return nil
}

// checkStatus turns a non-2xx response into a StageError carrying a bounded
// excerpt of the body.
func checkStatus(stage model.Stage, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &model.StageError{
		Stage:      stage,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
