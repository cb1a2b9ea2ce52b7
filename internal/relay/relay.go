// ABOUTME: Normalizes the upstream agent stream into start/chunk/complete/error events
// ABOUTME: All failures are reported in-band; the event channel always terminates cleanly

package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/skycast/internal/upstream"
)

// EventType identifies a relay stream event.
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one record of the normalized stream handed to clients.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Upstream is what the relay needs from the agent client.
type Upstream interface {
	Stream(ctx context.Context, message string) (io.ReadCloser, error)
}

// Relay forwards a single user message to the upstream agent and republishes
// the decoded response as a normalized event stream.
type Relay struct {
	upstream Upstream
	logger   *slog.Logger
}

// New creates a relay. Pass nil logger for default.
func New(up Upstream, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		upstream: up,
		logger:   logger.With("component", "relay"),
	}
}

// eventBufferSize is the channel buffer for the event stream.
const eventBufferSize = 16

// Stream relays one message. The returned channel emits exactly one start
// event, zero or more chunk events, and exactly one terminal event
// (complete or error), then closes. Nothing is ever emitted after the
// terminal event. Upstream failures surface as an error event, not as a
// channel-level failure, so the stream stays well-formed to its logical end.
//
// Cancelling ctx tears down the upstream connection; the channel closes
// without a terminal event in that case.
func (r *Relay) Stream(ctx context.Context, message string) <-chan Event {
	out := make(chan Event, eventBufferSize)

	go func() {
		defer close(out)

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventStart, Timestamp: time.Now().UTC()}) {
			return
		}

		body, err := r.upstream.Stream(ctx, message)
		if err != nil {
			r.logger.Error("upstream stream failed", "error", err)
			emit(errorEvent(err))
			return
		}
		defer body.Close()

		decoder := upstream.NewDecoder(body, r.logger)
		for {
			text, err := decoder.Next()
			if err == io.EOF {
				emit(Event{Type: EventComplete, Timestamp: time.Now().UTC()})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					r.logger.Debug("stream cancelled by consumer")
					return
				}
				r.logger.Error("upstream read failed", "error", err)
				emit(errorEvent(err))
				return
			}

			if !emit(Event{Type: EventChunk, Content: text, Timestamp: time.Now().UTC()}) {
				return
			}
		}
	}()

	return out
}

// errorEvent formats a failure as the in-band error record shown to the user.
func errorEvent(err error) Event {
	return Event{
		Type:      EventError,
		Content:   fmt.Sprintf("Sorry, I encountered an error: %v", err),
		Timestamp: time.Now().UTC(),
	}
}
