// ABOUTME: Tests for the streaming protocol decoder
// ABOUTME: Covers text tokens, dropped prefixes, malformed lines, and partial reads

package upstream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, d *Decoder) []string {
	t.Helper()
	var tokens []string
	for {
		text, err := d.Next()
		if err == io.EOF {
			return tokens
		}
		require.NoError(t, err)
		tokens = append(tokens, text)
	}
}

func TestDecoder_TextTokens(t *testing.T) {
	input := "0:\"Hello\"\n0:\" world\"\n"
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"Hello", " world"}, tokens)
}

func TestDecoder_DropsToolCallRecords(t *testing.T) {
	input := "0:\"before\"\n9:{\"tool\":\"x\"}\na:{\"result\":42}\n0:\"after\"\n"
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"before", "after"}, tokens)
}

func TestDecoder_DropsMetadataRecords(t *testing.T) {
	input := "f:{\"messageId\":\"m1\"}\n0:\"hi\"\ne:{\"finishReason\":\"stop\"}\nd:{\"finishReason\":\"stop\"}\n"
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"hi"}, tokens)
}

func TestDecoder_MalformedLinesDoNotAbort(t *testing.T) {
	input := "no separator here\n0:not json\n0:\"good\"\n"
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"good"}, tokens)
}

func TestDecoder_TrailingLineWithoutNewline(t *testing.T) {
	// The final record may arrive without a trailing newline; it must still
	// be decoded at EOF.
	input := "0:\"first\"\n0:\"last\""
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"first", "last"}, tokens)
}

// chunkedReader delivers its payload a few bytes at a time to simulate a
// record split across network reads.
type chunkedReader struct {
	data []byte
	pos  int
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	end := c.pos + c.size
	if end > len(c.data) {
		end = len(c.data)
	}
	n := copy(p, c.data[c.pos:end])
	c.pos += n
	return n, nil
}

func TestDecoder_RecordSplitAcrossReads(t *testing.T) {
	input := "0:\"a longer token that spans reads\"\n0:\"second\"\n"
	d := NewDecoder(&chunkedReader{data: []byte(input), size: 3}, nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"a longer token that spans reads", "second"}, tokens)
}

func TestDecoder_EmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader(""), nil)

	_, err := d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_SkipsBlankLines(t *testing.T) {
	input := "\n\n0:\"hi\"\n\n"
	d := NewDecoder(strings.NewReader(input), nil)

	tokens := drain(t, d)
	assert.Equal(t, []string{"hi"}, tokens)
}
