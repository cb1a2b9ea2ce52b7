// ABOUTME: Minimal fake weather agent for local development — speaks the
// ABOUTME: newline-prefixed stream protocol. Usage: fake-agent [-addr :4111] [-delay 50ms]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", "localhost:4111", "listen address")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between tokens")
	fail := flag.Bool("fail", false, "return HTTP 502 for every request")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/weatherAgent/stream", func(w http.ResponseWriter, r *http.Request) {
		if *fail {
			http.Error(w, "fake upstream failure", http.StatusBadGateway)
			return
		}
		serveStream(w, r, *delay)
	})

	log.Printf("fake agent listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

type streamRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// serveStream echoes the last user message back token by token, framed in
// the prefix protocol: metadata (f), a tool call round trip (9/a), text
// tokens (0), and finish records (e/d).
func serveStream(w http.ResponseWriter, r *http.Request, delay time.Duration) {
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	message := "hello"
	if len(req.Messages) > 0 {
		message = req.Messages[len(req.Messages)-1].Content
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	emit := func(prefix string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "%s:%s\n", prefix, data)
		flusher.Flush()
	}

	emit("f", map[string]string{"messageId": uuid.New().String()})

	emit("9", map[string]any{
		"toolCallId": uuid.New().String(),
		"toolName":   "weatherTool",
		"args":       map[string]string{"location": "Oslo"},
	})
	emit("a", map[string]any{
		"result": map[string]any{"temperature": 21, "conditions": "sunny"},
	})

	reply := fmt.Sprintf("You said: %s. The weather is sunny, 21C.", message)
	for _, word := range strings.Fields(reply) {
		emit("0", word+" ")
		time.Sleep(delay)
	}

	emit("e", map[string]string{"finishReason": "stop"})
	emit("d", map[string]string{"finishReason": "stop"})
}
