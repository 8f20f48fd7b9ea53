package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"julius/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{
			Role:      model.RoleUser,
			Content:   "Summarize the attached sales data",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleAssistant,
			Content:   "Revenue grew 12% quarter over quarter.",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleUser,
			Content:   "Which region grew fastest?",
			Timestamp: time.Now(),
		},
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{model.UserMessage(content)}
}

// TempFile writes content to a file with the given name in a fresh
// temporary directory and returns its path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
	return path
}

// CSVFixture writes a small CSV file and returns it as a file source.
func CSVFixture(t testing.TB, name string) model.FileSource {
	t.Helper()
	return model.LocalFile(TempFile(t, name, "region,revenue\nnorth,120\nsouth,95\n"))
}

// FragmentStream renders one JSON fragment object per content string.
func FragmentStream(contents ...string) []string {
	out := make([]string, len(contents))
	for i, c := range contents {
		data, _ := json.Marshal(map[string]string{"content": c})
		out[i] = string(data)
	}
	return out
}
