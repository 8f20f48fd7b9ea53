package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"julius/model"
)

// Outcome tags the result of one extraction attempt.
type Outcome int

const (
	// OutcomeIncomplete means the buffer holds no complete unit yet.
	OutcomeIncomplete Outcome = iota
	// OutcomeFragment means a well-formed unit was extracted.
	OutcomeFragment
	// OutcomeMalformed means bytes were consumed that can never form a fragment.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFragment:
		return "fragment"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "incomplete"
	}
}

// Extraction is the tagged result of StreamDecoder.Next.
type Extraction struct {
	Outcome  Outcome
	Fragment model.Fragment
	Offset   int64
	Unit     []byte
	Reason   string
}

// DecoderOptions configures a StreamDecoder.
type DecoderOptions struct {
	ReadBufferSize   int
	MaxFragmentBytes int
	Logger           *zap.Logger
}

const unitPreviewBytes = 120

// StreamDecoder reconstructs fragments from a byte stream of concatenated
// JSON objects. Objects may be split across reads or packed several per read,
// so bytes are buffered until a complete unit is available. A decoder holds
// the state of a single stream and must not be reused.
type StreamDecoder struct {
	buf    []byte
	offset int64

	// incremental scan state for the unit starting at buf[0]
	scanned  int
	closers  []byte
	inString bool
	escaped  bool

	readSize int
	maxUnit  int
	log      *zap.Logger
}

var _ model.Decoder = (*StreamDecoder)(nil)

// NewStreamDecoder creates a decoder for one response stream.
func NewStreamDecoder(opts DecoderOptions) *StreamDecoder {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.MaxFragmentBytes <= 0 {
		opts.MaxFragmentBytes = defaultMaxFragmentBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &StreamDecoder{
		readSize: opts.ReadBufferSize,
		maxUnit:  opts.MaxFragmentBytes,
		log:      opts.Logger,
	}
}

// Feed appends a transport chunk to the buffer.
func (d *StreamDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Buffered returns the number of bytes waiting for a complete unit.
func (d *StreamDecoder) Buffered() int {
	return len(d.buf)
}

// Next extracts at most one unit from the buffer. Call it until it returns
// OutcomeIncomplete, then Feed more data.
func (d *StreamDecoder) Next() Extraction {
	d.skipSpace()
	if len(d.buf) == 0 {
		return Extraction{Outcome: OutcomeIncomplete}
	}

	if d.buf[0] != '{' {
		end := bytes.IndexByte(d.buf, '{')
		if end < 0 {
			end = len(d.buf)
		}
		offset, unit := d.take(end)
		return Extraction{Outcome: OutcomeMalformed, Offset: offset, Unit: unit, Reason: "unexpected bytes outside a fragment object"}
	}

	end, state, reason := d.scan()
	switch state {
	case scanBroken:
		offset, unit := d.take(d.resync(end))
		return Extraction{Outcome: OutcomeMalformed, Offset: offset, Unit: unit, Reason: reason}
	case scanOpen:
		if len(d.buf) > d.maxUnit {
			offset, unit := d.take(len(d.buf))
			return Extraction{
				Outcome: OutcomeMalformed,
				Offset:  offset,
				Unit:    unit,
				Reason:  fmt.Sprintf("fragment exceeds %d bytes", d.maxUnit),
			}
		}
		return Extraction{Outcome: OutcomeIncomplete}
	}

	offset, unit := d.take(end)
	if !gjson.ValidBytes(unit) {
		return Extraction{Outcome: OutcomeMalformed, Offset: offset, Unit: unit, Reason: "invalid JSON"}
	}

	var frag model.Fragment
	if content := gjson.GetBytes(unit, "content"); content.Type == gjson.String {
		frag = model.Fragment{Content: content.Str, HasContent: true}
	}
	return Extraction{Outcome: OutcomeFragment, Fragment: frag, Offset: offset, Unit: unit}
}

// Finish reports whatever is left in the buffer once the stream has ended.
// A non-empty remainder is a partial unit: the stream was truncated.
func (d *StreamDecoder) Finish() (model.DecodeWarning, bool) {
	d.skipSpace()
	if len(d.buf) == 0 {
		return model.DecodeWarning{}, false
	}
	offset, unit := d.take(len(d.buf))
	return newWarning(model.WarningTruncated, offset, unit, "stream ended inside a fragment"), true
}

// Consume reads body to the end, accumulating the content of every fragment.
// Malformed and truncated units become warnings. A read error other than
// io.EOF, or cancellation of ctx, is returned as an error; cancellation also
// closes body if it is an io.Closer so a blocked read returns promptly.
func (d *StreamDecoder) Consume(ctx context.Context, body io.Reader, callback model.FragmentCallback) (model.DecodeResult, error) {
	if closer, ok := body.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { closer.Close() })
		defer stop()
	}

	var (
		result  model.DecodeResult
		content strings.Builder
		chunk   = make([]byte, d.readSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			result.Content = content.String()
			return result, err
		}

		n, err := body.Read(chunk)
		if n > 0 {
			d.Feed(chunk[:n])
			d.drain(&result, &content, callback)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Content = content.String()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			return result, fmt.Errorf("failed to read response stream: %w", err)
		}
	}

	if w, ok := d.Finish(); ok {
		d.log.Warn("response stream truncated", zap.Int64("offset", w.Offset), zap.Int("bytes", len(w.Unit)))
		result.Warnings = append(result.Warnings, w)
		result.Truncated = true
	}

	result.Content = content.String()
	return result, nil
}

func (d *StreamDecoder) drain(result *model.DecodeResult, content *strings.Builder, callback model.FragmentCallback) {
	for {
		ex := d.Next()
		switch ex.Outcome {
		case OutcomeIncomplete:
			return
		case OutcomeMalformed:
			d.log.Warn("skipping malformed stream unit", zap.Int64("offset", ex.Offset), zap.String("reason", ex.Reason))
			result.Warnings = append(result.Warnings, newWarning(model.WarningMalformed, ex.Offset, ex.Unit, ex.Reason))
		case OutcomeFragment:
			result.Fragments++
			if ex.Fragment.HasContent {
				content.WriteString(ex.Fragment.Content)
			}
			if callback != nil {
				callback(ex.Fragment)
			}
		}
	}
}

type scanState int

const (
	scanOpen scanState = iota
	scanClosed
	scanBroken
)

// scan continues the bracket scan of the unit at buf[0]. A closed unit ends
// at the returned index. A broken unit can never become valid JSON: a closing
// bracket does not match its opener, or a string holds a raw control byte.
// For a broken unit the index is where scanning should resume.
func (d *StreamDecoder) scan() (int, scanState, string) {
	for i := d.scanned; i < len(d.buf); i++ {
		b := d.buf[i]
		if d.inString {
			switch {
			case b < 0x20:
				return i, scanBroken, "control character inside a string"
			case d.escaped:
				d.escaped = false
			case b == '\\':
				d.escaped = true
			case b == '"':
				d.inString = false
			}
			continue
		}

		switch b {
		case '"':
			d.inString = true
		case '{':
			d.closers = append(d.closers, '}')
		case '[':
			d.closers = append(d.closers, ']')
		case '}', ']':
			top := len(d.closers) - 1
			if d.closers[top] != b {
				return i + 1, scanBroken, fmt.Sprintf("unexpected %q, expected %q", b, d.closers[top])
			}
			d.closers = d.closers[:top]
			if top == 0 {
				d.scanned = i + 1
				return i + 1, scanClosed, ""
			}
		}
	}
	d.scanned = len(d.buf)
	return -1, scanOpen, ""
}

// resync returns how many bytes to drop after a broken unit: everything up to
// the next object start at or after from, or the whole buffer when none has
// arrived yet.
func (d *StreamDecoder) resync(from int) int {
	if next := bytes.IndexByte(d.buf[from:], '{'); next >= 0 {
		return from + next
	}
	return len(d.buf)
}

// take removes n bytes from the front of the buffer and resets the scan state.
func (d *StreamDecoder) take(n int) (int64, []byte) {
	offset := d.offset
	unit := make([]byte, n)
	copy(unit, d.buf[:n])

	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	d.offset += int64(n)
	d.scanned, d.closers, d.inString, d.escaped = 0, d.closers[:0], false, false
	return offset, unit
}

func (d *StreamDecoder) skipSpace() {
	i := 0
	for i < len(d.buf) && isSpace(d.buf[i]) {
		i++
	}
	if i > 0 {
		d.take(i)
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

func newWarning(kind model.WarningKind, offset int64, unit []byte, reason string) model.DecodeWarning {
	preview := string(unit)
	if len(preview) > unitPreviewBytes {
		cut := unitPreviewBytes
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "..."
	}
	return model.DecodeWarning{Kind: kind, Offset: offset, Reason: reason, Unit: preview}
}
