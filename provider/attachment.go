package provider

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"julius/model"
)

// DefaultMimeType is used when a file exposes no MIME type.
const DefaultMimeType = "application/octet-stream"

// NormalizeFilename collapses every run of whitespace to a single space and
// trims both ends. NormalizeFilename(NormalizeFilename(x)) == NormalizeFilename(x).
func NormalizeFilename(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ResolveMimeType returns the file's declared MIME type, falling back to the
// extension and finally to DefaultMimeType.
func ResolveMimeType(f model.FileSource) string {
	if mt := strings.TrimSpace(f.MimeType); mt != "" {
		return mt
	}
	name := f.Name
	if name == "" {
		name = f.Path
	}
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return DefaultMimeType
}

type signedURLRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
}

type preprocessRequest struct {
	Filename       string  `json:"filename"`
	ConversationID *string `json:"conversationId"`
	Analyze        bool    `json:"analyze"`
}

type registerRequest struct {
	FileName string `json:"file_name"`
}

// UploadAndRegister implements model.Backend. It runs four dependent stages:
// normalize, acquire a transfer target, transfer the bytes, then preprocess
// and register. The first failing stage stops the pipeline and its error is
// returned together with the attachment marked Failed.
func (c *Client) UploadAndRegister(ctx context.Context, session model.Session, file model.FileSource) (model.Attachment, error) {
	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}

	att := model.Attachment{
		Source:   file.Path,
		Name:     NormalizeFilename(name),
		MimeType: ResolveMimeType(file),
		Status:   model.AttachmentPending,
	}
	log := c.log.With(zap.String("attachment", att.Name), zap.String("session_id", session.ID))

	fail := func(err error) (model.Attachment, error) {
		att.Status = model.AttachmentFailed
		stage, _ := model.StageOf(err)
		log.Debug("attachment failed", zap.String("stage", string(stage)), zap.Error(err))
		return att, err
	}

	if att.Name == "" {
		return fail(&model.StageError{Stage: model.StageTarget, Err: errors.New("file name is empty")})
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return fail(&model.StageError{Stage: model.StageTransfer, Err: fmt.Errorf("failed to open file: %w", err)})
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fail(&model.StageError{Stage: model.StageTransfer, Err: fmt.Errorf("failed to stat file: %w", err)})
	}

	att.Status = model.AttachmentUploading
	log.Debug("uploading attachment", zap.String("mime", att.MimeType), zap.Int64("size", stat.Size()))

	target, err := c.acquireTarget(ctx, att)
	if err != nil {
		return fail(err)
	}

	if err := c.transfer(ctx, target, f, stat.Size(), att.MimeType); err != nil {
		return fail(err)
	}

	if err := c.preprocess(ctx, att.Name); err != nil {
		return fail(err)
	}

	if err := c.register(ctx, session, att.Name); err != nil {
		return fail(err)
	}

	att.Status = model.AttachmentRegistered
	log.Debug("attachment registered")
	return att, nil
}

func (c *Client) acquireTarget(ctx context.Context, att model.Attachment) (string, error) {
	var resp signedURLResponse
	err := c.postJSON(ctx, model.StageTarget, c.rc, "/files/signed_url", signedURLRequest{
		Filename: att.Name,
		MimeType: att.MimeType,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.SignedURL == "" {
		return "", &model.StageError{Stage: model.StageTarget, Err: errors.New("response did not include a signed URL")}
	}
	return resp.SignedURL, nil
}

// transfer pushes the raw bytes to the signed destination. The destination
// is scoped by its URL, so no bearer token is sent.
func (c *Client) transfer(ctx context.Context, target string, f *os.File, size int64, mimeType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, f)
	if err != nil {
		return &model.StageError{Stage: model.StageTransfer, Err: err}
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &model.StageError{Stage: model.StageTransfer, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("HTTP PUT signed url", zap.Int("status", resp.StatusCode), zap.Int64("bytes", size))

	return checkStatus(model.StageTransfer, resp)
}

func (c *Client) preprocess(ctx context.Context, name string) error {
	return c.postJSON(ctx, model.StagePreprocess, c.rc, "/files/preprocess_file", preprocessRequest{
		Filename: name,
		Analyze:  true,
	}, nil)
}

func (c *Client) register(ctx context.Context, session model.Session, name string) error {
	return c.postJSON(ctx, model.StageRegister, c.rc.WithSession(session.ID), "/api/chat/sources", registerRequest{
		FileName: name,
	}, nil)
}
