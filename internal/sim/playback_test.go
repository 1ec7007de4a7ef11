package sim

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roverswarm/internal/transport"
)

type collectHandler struct {
	topics   []string
	payloads []string
}

func (c *collectHandler) OnMessage(topic string, payload []byte) {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, string(payload))
}

func TestReplayLog(t *testing.T) {
	caps := []Capture{
		{Topic: "telemetry/a/status", Payload: ConnectedNotice, Timestamp: time.Unix(0, 0)},
		{Topic: "telemetry/a/status", Payload: `{"mode":"OFF"}`, Timestamp: time.Unix(1, 0)},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range caps {
		if err := enc.Encode(c); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	h := &collectHandler{}
	n, err := ReplayLog(&buf, h, 0)
	if err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if n != len(caps) {
		t.Fatalf("expected %d messages, got %d", len(caps), n)
	}
	for i, c := range caps {
		if h.payloads[i] != c.Payload || h.topics[i] != c.Topic {
			t.Fatalf("message %d mismatch: %q vs %q", i, h.payloads[i], c.Payload)
		}
	}
}

func TestReplayLogSpeed(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	_ = enc.Encode(Capture{Topic: "t", Payload: "{}", Timestamp: time.Unix(0, 0)})
	_ = enc.Encode(Capture{Topic: "t", Payload: "{}", Timestamp: time.Unix(1, 0)})

	start := time.Now()
	if _, err := ReplayLog(&buf, &collectHandler{}, 20); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected replay to wait ~50ms, took %v", elapsed)
	}
}

func TestReplayLogMalformed(t *testing.T) {
	h := &collectHandler{}
	n, err := ReplayLog(bytes.NewBufferString(`{"topic":"t","payload":"{}"}`+"\n{oops"), h, 0)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if n != 1 {
		t.Fatalf("expected 1 message before the error, got %d", n)
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	live := &collectHandler{}
	rec := NewRecorder(f, live)
	rec.OnMessage("telemetry/b/status", []byte(ConnectedNotice))
	rec.OnMessage("telemetry/b/status", []byte(`{"mode":"IDLE"}`))
	if err := rec.Err(); err != nil {
		t.Fatalf("recorder: %v", err)
	}
	f.Close()

	if len(live.topics) != 2 {
		t.Fatalf("recorder did not forward: %d", len(live.topics))
	}
	replayed := &collectHandler{}
	if _, err := ReplayLogFile(path, replayed, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if replayed.payloads[1] != `{"mode":"IDLE"}` {
		t.Fatalf("unexpected replay payload %q", replayed.payloads[1])
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorderKeepsForwardingOnWriteError(t *testing.T) {
	live := &collectHandler{}
	rec := NewRecorder(failWriter{}, transport.Handler(live))
	rec.OnMessage("t", []byte("{}"))
	rec.OnMessage("t", []byte("{}"))
	if rec.Err() == nil {
		t.Fatalf("expected write error")
	}
	if len(live.topics) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(live.topics))
	}
}

func TestReplayLogFileMissing(t *testing.T) {
	if _, err := ReplayLogFile(filepath.Join(t.TempDir(), "none"), &collectHandler{}, 0); err == nil {
		t.Fatalf("expected error")
	}
}
