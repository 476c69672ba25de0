package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Message represents an individual communication entry within the conversation. It contains the
// participant's role, the message content, and the precise time when the message was created.
// Messages are immutable once created; the conversation is append-only until a full reset.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Document holds the currently uploaded file and its extracted text. It is replaced wholesale on
// every new upload or reset, never partially updated.
type Document struct {
	Name     string
	Size     int64
	MimeType string
	Text     string

	// Processing is true while a slow extraction (OCR) is still running and Text only holds a
	// transient placeholder.
	Processing bool
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
)

// Empty reports whether no document is currently loaded.
func (d Document) Empty() bool {
	return d.Name == "" && d.Text == ""
}

// FormatFileSize renders a byte count as a human readable string with two decimal places,
// e.g. "1.21 KB".
func FormatFileSize(bytes int64) string {
	if bytes == 0 {
		return "0 Bytes"
	}

	const k = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB"}

	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}

	return fmt.Sprintf("%s %s", trimZeros(float64(bytes)/math.Pow(k, float64(i))), sizes[i])
}

func trimZeros(v float64) string {
	s := fmt.Sprintf("%.2f", math.Round(v*100)/100)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// LineCount returns the number of lines in content, counting the trailing partial line.
func LineCount(content string) int {
	return strings.Count(content, "\n") + 1
}

// TruncateLines caps content to maxLines lines for preview rendering, appending a truncation
// notice when lines were dropped.
func TruncateLines(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n") + "\n\n... (content truncated)"
}
