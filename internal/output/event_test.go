package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONEmitterEncodesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewJSONEmitter(&buf)

	event := Event{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelInfo,
		Event:     EventItemFinished,
		JobID:     "job-1",
		Item:      "My Video",
		Message:   "finished My Video.mp4",
	}
	if err := emitter.Emit(event); err != nil {
		t.Fatalf("emit: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Event != EventItemFinished || decoded.Item != "My Video" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected newline-delimited output")
	}
}

func TestHumanEmitterRoutesLevels(t *testing.T) {
	var stdout, stderr bytes.Buffer
	emitter := NewHumanEmitter(&stdout, &stderr, false, false)

	_ = emitter.Emit(Event{Level: LevelInfo, Event: EventItemStarted, Message: "item 1"})
	_ = emitter.Emit(Event{Level: LevelWarn, Event: EventItemStarted, Message: "careful"})
	_ = emitter.Emit(Event{Level: LevelError, Event: EventJobFailed, Message: "boom"})

	if !strings.Contains(stdout.String(), "item 1") {
		t.Fatalf("info should go to stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "WARN: careful") {
		t.Fatalf("warn should go to stderr, got %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "ERROR: boom") {
		t.Fatalf("error should go to stderr, got %q", stderr.String())
	}
}

func TestHumanEmitterSuppressesProgressUnlessVerbose(t *testing.T) {
	var stdout, stderr bytes.Buffer
	quietEmitter := NewHumanEmitter(&stdout, &stderr, false, false)
	_ = quietEmitter.Emit(Event{Level: LevelInfo, Event: EventItemProgress, Message: "42%"})
	if stdout.Len() != 0 {
		t.Fatalf("progress should be suppressed, got %q", stdout.String())
	}

	verboseEmitter := NewHumanEmitter(&stdout, &stderr, false, true)
	_ = verboseEmitter.Emit(Event{Level: LevelInfo, Event: EventItemProgress, Message: "42%"})
	if !strings.Contains(stdout.String(), "42%") {
		t.Fatalf("verbose progress should print, got %q", stdout.String())
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	emitter := NewMultiEmitter(NewJSONEmitter(&a), NewJSONEmitter(&b))
	if err := emitter.Emit(Event{Level: LevelInfo, Event: EventJobStarted, Message: "go"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("expected both emitters to receive the event")
	}
}
