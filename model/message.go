package model

import (
	"mime"
	"path/filepath"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FileSource is a local file the caller wants attached to a message.
// MimeType may be empty; the uploader fills in a default.
type FileSource struct {
	Path     string
	Name     string
	MimeType string
}

// LocalFile builds a FileSource from a path, guessing the MIME type from the extension.
func LocalFile(path string) FileSource {
	return FileSource{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
	}
}

// Message represents one entry of the conversation submitted to the backend.
type Message struct {
	Role              Role
	Content           string
	Files             []FileSource
	AdvancedReasoning bool
	Timestamp         time.Time
}

// UserMessage returns a user message with the given content and attachments.
func UserMessage(content string, files ...FileSource) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		Files:     files,
		Timestamp: time.Now(),
	}
}
