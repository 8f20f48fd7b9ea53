package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
	"<", "-", ">", "-", "|", "-", " ", "-", "\n", "-", "\r", "-", "\t", "-",
)

// SanitizeFilename removes or replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	name = filenameReplacer.Replace(name)
	name = strings.Trim(name, "-.")

	if r := []rune(name); len(r) > 50 {
		name = strings.TrimRight(string(r[:50]), "-.")
	}

	if name == "" {
		name = "exchange"
	}
	return name
}

// GenerateExchangeName derives a display name from the first user message.
func GenerateExchangeName(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fmt.Sprintf("Exchange %s", time.Now().Format("Jan 2, 3:04 PM"))
	}
	if r := []rune(name); len(r) > 30 {
		name = string(r[:30]) + "..."
	}
	return name
}

// GenerateExportPath builds a timestamped export file name inside dir.
func GenerateExportPath(dir string, ex *Exchange) string {
	filename := fmt.Sprintf("julius-%s-%s.json", SanitizeFilename(ex.Name), ex.StartedAt.Format("20060102-150405"))
	return filepath.Join(dir, filename)
}

// ExportToJSON writes one exchange, with its messages, replies, attachments
// and warnings, to exportPath as indented JSON.
func (hs *HistoryStore) ExportToJSON(ctx context.Context, idOrPrefix string, exportPath string) error {
	ex, err := hs.LoadExchange(ctx, idOrPrefix)
	if err != nil {
		return fmt.Errorf("failed to load exchange: %w", err)
	}

	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal exchange: %w", err)
	}

	// Ensure directory exists (0700 - user-only access)
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Exports contain conversation content (0600)
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	hs.log.Debug("exchange exported", zap.String("exchange_id", ex.ID), zap.String("path", exportPath))
	return nil
}
