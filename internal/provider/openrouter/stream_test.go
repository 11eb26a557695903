package openrouter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diego-ramazzini/muniagent/config"
)

func feedAll(t *testing.T, sc *EventScanner, chunks ...string) []string {
	t.Helper()
	var out []string
	for _, chunk := range chunks {
		sc.Feed([]byte(chunk))
		for {
			payload, ok := sc.Next()
			if !ok {
				break
			}
			out = append(out, payload)
		}
	}
	return out
}

func TestEventScanner_WholeLines(t *testing.T) {
	var sc EventScanner
	got := feedAll(t, &sc,
		"data: {\"a\":1}\n",
		"data: {\"b\":2}\n",
		"data: [DONE]\n",
	)
	want := []string{`{"a":1}`, `{"b":2}`, "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("expected %d payloads, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestEventScanner_SplitAcrossFeeds(t *testing.T) {
	var sc EventScanner
	got := feedAll(t, &sc, "da", "ta: {\"delta\"", ":\"ho", "la\"}\r\nda", "ta: [DONE]\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 payloads, got %d (%v)", len(got), got)
	}
	if got[0] != `{"delta":"hola"}` {
		t.Fatalf("expected reassembled payload, got %q", got[0])
	}
	if got[1] != DoneSentinel {
		t.Fatalf("expected sentinel, got %q", got[1])
	}
}

func TestEventScanner_SkipsNonDataLines(t *testing.T) {
	var sc EventScanner
	got := feedAll(t, &sc, ": keepalive\nevent: update\n\ndata: x\n")
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected only the data payload, got %v", got)
	}
}

func TestEventScanner_IncompleteLineWaits(t *testing.T) {
	var sc EventScanner
	sc.Feed([]byte("data: partial"))
	if _, ok := sc.Next(); ok {
		t.Fatalf("scanner must not emit before a line terminator arrives")
	}
	sc.Feed([]byte("\n"))
	payload, ok := sc.Next()
	if !ok || payload != "partial" {
		t.Fatalf("expected %q after terminator, got %q (ok=%v)", "partial", payload, ok)
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
}

func streamingClient(baseURL string) *Client {
	return NewClient(config.OpenRouterConfig{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		CompletionModel: "test-model",
	})
}

func TestChatStream_EmitsDeltasInOrder(t *testing.T) {
	srv := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"El \"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"IUSI \"}}]}\n",
		"data: not-json\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"se paga en la muni.\"}}]}\n",
		"data: [DONE]\n",
	)
	defer srv.Close()

	var got strings.Builder
	err := streamingClient(srv.URL).ChatStream(context.Background(), []Message{{Role: "user", Content: "q"}}, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	want := "El IUSI se paga en la muni."
	if got.String() != want {
		t.Fatalf("expected %q, got %q", want, got.String())
	}
}

func TestChatStream_StopsAtSentinel(t *testing.T) {
	srv := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"antes\"}}]}\n",
		"data: [DONE]\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"despues\"}}]}\n",
	)
	defer srv.Close()

	var got strings.Builder
	err := streamingClient(srv.URL).ChatStream(context.Background(), nil, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if got.String() != "antes" {
		t.Fatalf("expected stream to stop at sentinel, got %q", got.String())
	}
}

func TestChatStream_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := streamingClient(srv.URL).ChatStream(context.Background(), nil, func(string) error {
		t.Fatal("no deltas expected on error status")
		return nil
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", statusErr.Code)
	}
	if !strings.Contains(statusErr.Body, "model overloaded") {
		t.Fatalf("expected error body to carry provider message, got %q", statusErr.Body)
	}
}

func TestChatStream_ConsumerStopsUpstream(t *testing.T) {
	srv := sseServer(t,
		"data: {\"choices\":[{\"delta\":{\"content\":\"uno\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"dos\"}}]}\n",
		"data: [DONE]\n",
	)
	defer srv.Close()

	stop := errors.New("consumer gone")
	var seen int
	err := streamingClient(srv.URL).ChatStream(context.Background(), nil, func(string) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected consumer error to propagate, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected exactly one delta before stop, got %d", seen)
	}
}
