package model

import (
	"context"
	"io"
)

// Backend abstracts the remote conversation service.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: provider implementations import model, and the orchestrator uses
// Backend without importing the provider package.
type Backend interface {
	// StartSession creates a remote conversation. An empty hint selects the default provider.
	StartSession(ctx context.Context, modelHint string) (Session, error)

	// UploadAndRegister runs the attachment pipeline for one file.
	UploadAndRegister(ctx context.Context, session Session, file FileSource) (Attachment, error)

	// Dispatch sends a message and returns the streamed response body.
	// The caller must close the body.
	Dispatch(ctx context.Context, session Session, req MessageRequest) (io.ReadCloser, error)

	// NewDecoder returns a fresh decoder for one response stream.
	NewDecoder() Decoder
}

// MessageRequest is the backend-neutral content of one outgoing message.
type MessageRequest struct {
	Content           string
	Provider          string
	Attachments       []Attachment
	AdvancedReasoning bool
}

// FragmentCallback receives fragments as they are decoded.
type FragmentCallback func(Fragment)

// Decoder turns a streamed response body into text.
type Decoder interface {
	Consume(ctx context.Context, body io.Reader, callback FragmentCallback) (DecodeResult, error)
}

// DecodeResult is the best-effort text of one stream plus its diagnostics.
// Warnings carry MessageIndex zero; the orchestrator stamps the real index.
type DecodeResult struct {
	Content   string
	Fragments int
	Warnings  []DecodeWarning
	Truncated bool
}
