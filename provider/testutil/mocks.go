package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"julius/model"
)

// MockBackend implements model.Backend for orchestrator tests
type MockBackend struct {
	// Configurable responses
	StartSessionFunc func(ctx context.Context, modelHint string) (model.Session, error)
	UploadFunc       func(ctx context.Context, session model.Session, file model.FileSource) (model.Attachment, error)
	DispatchFunc     func(ctx context.Context, session model.Session, req model.MessageRequest) (io.ReadCloser, error)
	DecodeFunc       func(ctx context.Context, body io.Reader, callback model.FragmentCallback) (model.DecodeResult, error)

	mu         sync.Mutex
	sessions   int
	uploads    []model.FileSource
	dispatched []model.MessageRequest
	seq        atomic.Int64
}

// NewMockBackend creates a backend that succeeds at every stage and answers
// each message with "reply to <content>".
func NewMockBackend() *MockBackend {
	m := &MockBackend{}
	m.StartSessionFunc = m.defaultStartSession
	m.UploadFunc = m.defaultUpload
	m.DispatchFunc = m.defaultDispatch
	m.DecodeFunc = PlainDecode
	return m
}

func (m *MockBackend) defaultStartSession(ctx context.Context, modelHint string) (model.Session, error) {
	provider := modelHint
	if provider == "" {
		provider = model.DefaultProvider
	}
	return model.Session{
		ID:        fmt.Sprintf("session-%d", m.seq.Add(1)),
		Provider:  provider,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockBackend) defaultUpload(ctx context.Context, session model.Session, file model.FileSource) (model.Attachment, error) {
	return model.Attachment{
		Source:   file.Path,
		Name:     file.Name,
		MimeType: file.MimeType,
		Status:   model.AttachmentRegistered,
	}, nil
}

func (m *MockBackend) defaultDispatch(ctx context.Context, session model.Session, req model.MessageRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("reply to " + req.Content)), nil
}

func (m *MockBackend) StartSession(ctx context.Context, modelHint string) (model.Session, error) {
	m.mu.Lock()
	m.sessions++
	m.mu.Unlock()
	return m.StartSessionFunc(ctx, modelHint)
}

func (m *MockBackend) UploadAndRegister(ctx context.Context, session model.Session, file model.FileSource) (model.Attachment, error) {
	m.mu.Lock()
	m.uploads = append(m.uploads, file)
	m.mu.Unlock()
	return m.UploadFunc(ctx, session, file)
}

func (m *MockBackend) Dispatch(ctx context.Context, session model.Session, req model.MessageRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, req)
	m.mu.Unlock()
	return m.DispatchFunc(ctx, session, req)
}

func (m *MockBackend) NewDecoder() model.Decoder {
	return decoderFunc(m.DecodeFunc)
}

// SessionsStarted returns how many times StartSession was called.
func (m *MockBackend) SessionsStarted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// Uploads returns the files passed to UploadAndRegister, in call order.
func (m *MockBackend) Uploads() []model.FileSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FileSource(nil), m.uploads...)
}

// Dispatched returns the message requests passed to Dispatch, in call order.
func (m *MockBackend) Dispatched() []model.MessageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.MessageRequest(nil), m.dispatched...)
}

type decoderFunc func(ctx context.Context, body io.Reader, callback model.FragmentCallback) (model.DecodeResult, error)

func (f decoderFunc) Consume(ctx context.Context, body io.Reader, callback model.FragmentCallback) (model.DecodeResult, error) {
	return f(ctx, body, callback)
}

// PlainDecode treats the whole body as a single fragment.
func PlainDecode(ctx context.Context, body io.Reader, callback model.FragmentCallback) (model.DecodeResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.DecodeResult{}, ctxErr
		}
		return model.DecodeResult{}, err
	}
	frag := model.Fragment{Content: string(data), HasContent: true}
	if callback != nil {
		callback(frag)
	}
	return model.DecodeResult{Content: frag.Content, Fragments: 1}, nil
}

// ErrMock is a generic failure injected by tests.
var ErrMock = errors.New("mock failure")
