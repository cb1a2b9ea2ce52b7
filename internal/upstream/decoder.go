// ABOUTME: Decoder for the agent's newline-delimited streaming protocol
// ABOUTME: Records look like <prefix>:<json>; only prefix "0" carries user-visible text

package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// Known non-text record prefixes. These carry agent-internal metadata
// (tool calls, tool results, run markers) and are never surfaced to chat.
//
//	9 = tool-call   a = tool-result   f/e/d = run metadata
var droppedPrefixes = map[string]bool{
	"9": true,
	"a": true,
	"b": true,
	"c": true,
	"d": true,
	"e": true,
	"f": true,
}

// maxLineSize bounds a single protocol line. Text tokens are small, but
// tool-result payloads can carry whole API responses.
const maxLineSize = 1024 * 1024

// Decoder reads text tokens out of an upstream stream, one protocol line at
// a time. Partial trailing lines are buffered across reads by the underlying
// scanner, and a final unterminated line is still decoded at EOF.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
}

// NewDecoder wraps a streaming body. Pass nil logger for default.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{
		scanner: scanner,
		logger:  logger.With("component", "decoder"),
	}
}

// Next returns the next text token from the stream. Records that are not
// text tokens are consumed and skipped. Returns io.EOF when the stream ends.
func (d *Decoder) Next() (string, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		text, ok := d.decodeLine(line)
		if ok {
			return text, nil
		}
	}

	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// decodeLine parses a single protocol record. It returns ok=true only for
// text-token records (prefix "0"). Malformed lines are logged and dropped;
// a bad line must never take down the stream.
func (d *Decoder) decodeLine(line string) (string, bool) {
	colonIndex := strings.Index(line, ":")
	if colonIndex == -1 {
		d.logger.Debug("dropping record without separator", "line", truncateForLog(line))
		return "", false
	}

	prefix := line[:colonIndex]
	payload := line[colonIndex+1:]

	if prefix != "0" {
		if !droppedPrefixes[prefix] {
			d.logger.Debug("dropping record with unknown prefix", "prefix", prefix)
		}
		return "", false
	}

	var text string
	if err := json.Unmarshal([]byte(payload), &text); err != nil {
		d.logger.Debug("dropping unparseable record", "line", truncateForLog(line), "error", err)
		return "", false
	}

	return text, true
}

func truncateForLog(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
