package openrouter

import (
	"bytes"
	"strings"
)

// DoneSentinel terminates a chat-completion event stream.
const DoneSentinel = "[DONE]"

// EventScanner incrementally splits a server-sent-event byte stream into
// `data:` payloads. It is decoupled from the transport: callers Feed raw
// chunks as they arrive (split at arbitrary byte boundaries) and drain
// complete payloads with Next. Memory stays bounded to the longest single
// line plus whatever the last Feed appended.
type EventScanner struct {
	buf bytes.Buffer
}

// Feed appends a raw transport chunk to the scan buffer.
func (s *EventScanner) Feed(p []byte) {
	s.buf.Write(p)
}

// Next returns the next complete `data:` payload, or ok=false when the buffer
// holds no complete line. Non-data lines (comments, event names, blank
// keepalives) are consumed and skipped.
func (s *EventScanner) Next() (payload string, ok bool) {
	for {
		raw := s.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return "", false
		}
		line := string(raw[:idx])
		s.buf.Next(idx + 1)

		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		return payload, true
	}
}
