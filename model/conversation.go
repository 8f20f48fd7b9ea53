package model

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConversationFile is the on-disk form of a scripted exchange.
type ConversationFile struct {
	Model    string        `yaml:"model"`
	Session  string        `yaml:"session,omitempty"`
	Messages []MessageFile `yaml:"messages"`
}

// MessageFile is one scripted message. Relative file paths resolve against
// the script's directory.
type MessageFile struct {
	Role              string   `yaml:"role"`
	Content           string   `yaml:"content"`
	Files             []string `yaml:"files,omitempty"`
	AdvancedReasoning bool     `yaml:"advanced_reasoning,omitempty"`
}

// Conversation is a parsed script ready for the orchestrator.
type Conversation struct {
	Model     string
	SessionID string
	Messages  []Message
}

// LoadConversation reads a YAML conversation script.
func LoadConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}
	return ParseConversation(data, filepath.Dir(path))
}

// ParseConversation parses a YAML conversation script.
func ParseConversation(data []byte, baseDir string) (*Conversation, error) {
	var cf ConversationFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}

	conv := &Conversation{
		Model:     cf.Model,
		SessionID: cf.Session,
		Messages:  make([]Message, 0, len(cf.Messages)),
	}

	for i, mf := range cf.Messages {
		role := Role(mf.Role)
		switch role {
		case "":
			role = RoleUser
		case RoleUser, RoleAssistant:
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, mf.Role)
		}

		msg := Message{
			Role:              role,
			Content:           mf.Content,
			AdvancedReasoning: mf.AdvancedReasoning,
		}
		for _, p := range mf.Files {
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			msg.Files = append(msg.Files, LocalFile(p))
		}
		conv.Messages = append(conv.Messages, msg)
	}

	return conv, nil
}
