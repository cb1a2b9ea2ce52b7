// ABOUTME: Tests for conversation export formats
// ABOUTME: Covers text/markdown/HTML rendering and the JSON round trip

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/skycast/internal/store"
)

func exportFixture() *store.Conversation {
	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return &store.Conversation{
		ID:        "conv-1",
		Title:     "Weather in Oslo",
		CreatedAt: ts,
		UpdatedAt: ts,
		Messages: []store.Message{
			{ID: "m1", Content: "what's the weather in Oslo", Sender: store.SenderUser, Status: store.StatusDelivered, Timestamp: ts},
			{ID: "m2", Content: "Sunny, **21C**.", Sender: store.SenderAgent, Status: store.StatusDelivered, Timestamp: ts},
		},
	}
}

func TestExport_Text(t *testing.T) {
	data, filename, err := Export(exportFixture(), FormatText)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "Weather in Oslo")
	assert.Contains(t, out, "[2025-06-01 09:30:00] user: what's the weather in Oslo")
	assert.Contains(t, out, "agent: Sunny, **21C**.")
	assert.Equal(t, "weather-in-oslo.txt", filename)
}

func TestExport_Markdown(t *testing.T) {
	data, filename, err := Export(exportFixture(), FormatMarkdown)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "# Weather in Oslo")
	assert.Contains(t, out, "**user** (2025-06-01 09:30:00):")
	assert.Contains(t, out, "Sunny, **21C**.")
	assert.Equal(t, "weather-in-oslo.md", filename)
}

func TestExport_HTML(t *testing.T) {
	data, filename, err := Export(exportFixture(), FormatHTML)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "<title>Weather in Oslo</title>")
	// Markdown emphasis renders to real markup
	assert.Contains(t, out, "<strong>21C</strong>")
	assert.Equal(t, "weather-in-oslo.html", filename)
}

func TestExport_JSONRoundTrip(t *testing.T) {
	conv := exportFixture()

	data, filename, err := Export(conv, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "weather-in-oslo.json", filename)

	parsed, err := ParseExport(data)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, parsed.ID)
	assert.Equal(t, conv.Title, parsed.Title)
	require.Len(t, parsed.Messages, 2)
	assert.Equal(t, conv.Messages[1].Content, parsed.Messages[1].Content)
	assert.Equal(t, store.StatusDelivered, parsed.Messages[1].Status)
}

func TestExport_UnknownFormat(t *testing.T) {
	_, _, err := Export(exportFixture(), ExportFormat("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseExport_Rejects(t *testing.T) {
	_, err := ParseExport([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseExport([]byte(`{"version": 99, "conversation": {"id": "x"}}`))
	assert.ErrorContains(t, err, "unsupported export version")

	_, err = ParseExport([]byte(`{"version": 1}`))
	assert.ErrorContains(t, err, "no conversation")
}

func TestExportCurrent_NoConversation(t *testing.T) {
	s := newTestStore(t, happyStream())

	_, _, err := s.ExportCurrent(FormatText)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestExportCurrent(t *testing.T) {
	s := newTestStore(t, happyStream())

	require.NoError(t, s.Send(context.Background(), "weather in Oslo", nil))

	data, filename, err := s.ExportCurrent(FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "weather-in-oslo.json", filename)

	parsed, err := ParseExport(data)
	require.NoError(t, err)
	assert.Equal(t, "weather in Oslo", parsed.Title)
	require.Len(t, parsed.Messages, 2)
}
