package provider_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julius/model"
	"julius/provider"
	"julius/provider/testutil"
)

// TestBackendContract defines the contract every backend must satisfy.
// The orchestrator tests rely on MockBackend behaving like the real client.
func TestBackendContract(t *testing.T) {
	tests := []struct {
		name    string
		backend func(t *testing.T) model.Backend
	}{
		{"Mock", func(t *testing.T) model.Backend {
			b := testutil.NewMockBackend()
			b.DispatchFunc = func(ctx context.Context, s model.Session, req model.MessageRequest) (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader("pong")), nil
			}
			return b
		}},
		{"Julius", func(t *testing.T) model.Backend {
			srv := testutil.NewMockServer(t)
			srv.SetStream(`{"content":"po`, `ng"}`)
			c, err := provider.NewClient(provider.ClientConfig{BaseURL: srv.URL, APIKey: "test-key"})
			require.NoError(t, err)
			return c
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Run("SessionLifecycle", func(t *testing.T) {
				testBackendSession(t, tt.backend(t))
			})
			t.Run("Attachment", func(t *testing.T) {
				testBackendAttachment(t, tt.backend(t))
			})
			t.Run("MessageRoundTrip", func(t *testing.T) {
				testBackendMessage(t, tt.backend(t))
			})
		})
	}
}

func testBackendSession(t *testing.T, b model.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := b.StartSession(ctx, "")
	require.NoError(t, err)
	assert.False(t, session.IsZero())
	assert.Equal(t, model.DefaultProvider, session.Provider)
}

func testBackendAttachment(t *testing.T, b model.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := b.StartSession(ctx, "")
	require.NoError(t, err)

	att, err := b.UploadAndRegister(ctx, session, testutil.CSVFixture(t, "sales.csv"))
	require.NoError(t, err)
	assert.True(t, att.Registered())
	assert.Equal(t, "sales.csv", att.Name)
}

func testBackendMessage(t *testing.T, b model.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := b.StartSession(ctx, "")
	require.NoError(t, err)

	body, err := b.Dispatch(ctx, session, model.MessageRequest{Content: "ping"})
	require.NoError(t, err)
	defer body.Close()

	result, err := b.NewDecoder().Consume(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", result.Content)
}
