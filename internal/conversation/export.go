// ABOUTME: Conversation export: plain text, JSON, Markdown, and rendered HTML
// ABOUTME: The JSON form round-trips through ParseExport for backup/restore

package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/skycast/internal/store"
)

// ExportFormat selects the serialization for an exported conversation.
type ExportFormat string

const (
	FormatText     ExportFormat = "txt"
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "md"
	FormatHTML     ExportFormat = "html"
)

// ErrUnknownFormat is returned for an unrecognized export format.
var ErrUnknownFormat = errors.New("unknown export format")

// exportTimeLayout is the timestamp format used in human-readable exports.
const exportTimeLayout = "2006-01-02 15:04:05"

// exportVersion is the JSON export document version, independent of the
// database snapshot version.
const exportVersion = 1

// exportDocument is the JSON export envelope.
type exportDocument struct {
	Version      int                 `json:"version"`
	ExportedAt   time.Time           `json:"exportedAt"`
	Conversation *store.Conversation `json:"conversation"`
}

// ExportCurrent serializes the current conversation in the given format.
// Returns the payload and a suggested filename.
func (s *Store) ExportCurrent(format ExportFormat) ([]byte, string, error) {
	s.mu.Lock()
	conv := s.currentLocked()
	if conv == nil {
		s.mu.Unlock()
		return nil, "", ErrNoConversation
	}
	conv = conv.Clone()
	s.mu.Unlock()

	return Export(conv, format)
}

// Export serializes one conversation in the given format.
func Export(conv *store.Conversation, format ExportFormat) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatText:
		data = exportText(conv)
	case FormatJSON:
		data, err = exportJSON(conv)
	case FormatMarkdown:
		data = exportMarkdown(conv)
	case FormatHTML:
		data, err = exportHTML(conv)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, "", err
	}

	return data, exportFilename(conv.Title, format), nil
}

// ParseExport reads a conversation back from its JSON export form.
func ParseExport(data []byte) (*store.Conversation, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing export: %w", err)
	}
	if doc.Version != exportVersion {
		return nil, fmt.Errorf("unsupported export version %d", doc.Version)
	}
	if doc.Conversation == nil || doc.Conversation.ID == "" {
		return nil, errors.New("export contains no conversation")
	}
	return doc.Conversation, nil
}

func exportText(conv *store.Conversation) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", conv.Title)
	fmt.Fprintf(&b, "Exported %s\n\n", time.Now().UTC().Format(exportTimeLayout))

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			msg.Timestamp.Format(exportTimeLayout), msg.Sender, msg.Content)
	}
	return []byte(b.String())
}

func exportJSON(conv *store.Conversation) ([]byte, error) {
	doc := exportDocument{
		Version:      exportVersion,
		ExportedAt:   time.Now().UTC(),
		Conversation: conv,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return data, nil
}

func exportMarkdown(conv *store.Conversation) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "**%s** (%s):\n\n%s\n\n",
			msg.Sender, msg.Timestamp.Format(exportTimeLayout), msg.Content)
	}
	return []byte(b.String())
}

// exportHTML renders the Markdown form through goldmark and wraps it in a
// minimal standalone page.
func exportHTML(conv *store.Conversation) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert(exportMarkdown(conv), &body); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
`, htmlEscape(conv.Title))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// exportFilename derives a filesystem-safe filename from the title.
func exportFilename(title string, format ExportFormat) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, strings.TrimSpace(title))
	safe = strings.Trim(safe, "-")
	if safe == "" {
		safe = "conversation"
	}
	return fmt.Sprintf("%s.%s", strings.ToLower(safe), format)
}
