package model

import (
	"errors"
	"fmt"
)

// Stage names one network step of an exchange.
type Stage string

const (
	StageSession    Stage = "session-create"
	StageTarget     Stage = "attachment-target"
	StageTransfer   Stage = "attachment-transfer"
	StagePreprocess Stage = "attachment-preprocess"
	StageRegister   Stage = "attachment-register"
	StageSend       Stage = "message-send"
	StageStream     Stage = "stream-read"
)

var (
	ErrSessionCreation        = errors.New("session creation failed")
	ErrAttachmentTarget       = errors.New("attachment target request failed")
	ErrAttachmentTransfer     = errors.New("attachment transfer failed")
	ErrAttachmentPreprocess   = errors.New("attachment preprocessing failed")
	ErrAttachmentRegistration = errors.New("attachment registration failed")
	ErrMessageSend            = errors.New("message send failed")

	ErrTruncatedStream = errors.New("response stream ended inside a fragment")
	ErrSessionBusy     = errors.New("session already has an exchange in flight")
)

// Sentinel returns the error kind for a stage. Stream read failures count as
// message send failures.
func (s Stage) Sentinel() error {
	switch s {
	case StageSession:
		return ErrSessionCreation
	case StageTarget:
		return ErrAttachmentTarget
	case StageTransfer:
		return ErrAttachmentTransfer
	case StagePreprocess:
		return ErrAttachmentPreprocess
	case StageRegister:
		return ErrAttachmentRegistration
	default:
		return ErrMessageSend
	}
}

// StageError is returned by every backend call. StatusCode is zero when the
// request never produced a response.
type StageError struct {
	Stage      Stage
	StatusCode int
	Body       string
	Err        error
}

func (e *StageError) Error() string {
	msg := e.Stage.Sentinel().Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the stage sentinel and the underlying cause, so
// errors.Is works for either.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Stage.Sentinel()}
	}
	return []error{e.Stage.Sentinel(), e.Err}
}

// ExchangeError locates a failure within a Completion call.
// MessageIndex is -1 for failures before the first message.
type ExchangeError struct {
	MessageIndex int
	Attachment   string
	Stage        Stage
	Err          error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.MessageIndex < 0:
		return fmt.Sprintf("exchange failed at %s: %v", e.Stage, e.Err)
	case e.Attachment != "":
		return fmt.Sprintf("message %d: attachment %q failed at %s: %v", e.MessageIndex, e.Attachment, e.Stage, e.Err)
	default:
		return fmt.Sprintf("message %d failed at %s: %v", e.MessageIndex, e.Stage, e.Err)
	}
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// StageOf extracts the failing stage from an error chain.
func StageOf(err error) (Stage, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Stage, true
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
