package model

import (
	"fmt"
	"strings"
)

// Fragment is one decoded unit of streamed response text.
// HasContent is false for well-formed units that carry no content field.
type Fragment struct {
	Content    string
	HasContent bool
}

// WarningKind classifies a non-fatal decode problem.
type WarningKind string

const (
	WarningMalformed WarningKind = "malformed"
	WarningTruncated WarningKind = "truncated"
)

// DecodeWarning reports stream bytes that were skipped instead of decoded.
// Offset is the byte position of the unit within its response stream.
type DecodeWarning struct {
	Kind         WarningKind
	MessageIndex int
	Offset       int64
	Reason       string
	Unit         string
}

func (w DecodeWarning) String() string {
	return fmt.Sprintf("message %d: %s unit at offset %d: %s", w.MessageIndex, w.Kind, w.Offset, w.Reason)
}

// Reply is the decoded answer to a single dispatched message.
type Reply struct {
	MessageIndex int
	Content      string
	Attachments  []Attachment
	Fragments    int
}

// Outcome distinguishes a clean completion from one carrying diagnostics.
type Outcome string

const (
	OutcomeComplete     Outcome = "complete"
	OutcomeWithWarnings Outcome = "complete_with_warnings"
)

// Completion accumulates replies in message order, then fragment arrival order.
// Content only ever grows.
type Completion struct {
	ExchangeID string
	SessionID  string
	Content    string
	Replies    []Reply
	Warnings   []DecodeWarning
}

// Append adds a reply to the running completion.
func (c *Completion) Append(r Reply) {
	var b strings.Builder
	b.Grow(len(c.Content) + len(r.Content))
	b.WriteString(c.Content)
	b.WriteString(r.Content)
	c.Content = b.String()
	c.Replies = append(c.Replies, r)
}

// Outcome reports whether the completion finished with decode warnings.
func (c *Completion) Outcome() Outcome {
	if len(c.Warnings) > 0 {
		return OutcomeWithWarnings
	}
	return OutcomeComplete
}
