package model

import (
	"context"
	"time"
)

// Policy controls how an exchange is sequenced and how strictly streams are judged.
type Policy struct {
	// AttachmentConcurrency bounds parallel uploads within one message.
	// Values below 2 upload one file at a time. Attachment order in the
	// payload is the input order either way.
	AttachmentConcurrency int

	// StrictTruncation turns a stream that ends inside a fragment into a hard
	// failure instead of a warning.
	StrictTruncation bool
}

// DefaultPolicy is strictly sequential and tolerant of truncated streams.
func DefaultPolicy() Policy {
	return Policy{AttachmentConcurrency: 1}
}

func (p Policy) parallelUploads() int {
	if p.AttachmentConcurrency < 2 {
		return 1
	}
	return p.AttachmentConcurrency
}

// RecordedAttachment is an attachment together with the message it belonged to.
type RecordedAttachment struct {
	MessageIndex int
	Attachment   Attachment
}

// ExchangeRecord describes a finished Completion call, successful or not.
type ExchangeRecord struct {
	ID          string
	SessionID   string
	Provider    string
	StartedAt   time.Time
	FinishedAt  time.Time
	Messages    []Message
	Attachments []RecordedAttachment
	Completion  *Completion
	Err         error
}

// Recorder persists exchanges. Recording failures never fail an exchange.
type Recorder interface {
	SaveSession(ctx context.Context, session Session) error
	SaveExchange(ctx context.Context, record ExchangeRecord) error
}
