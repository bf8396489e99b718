package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/message"
	"github.com/google/go-cmp/cmp"
)

func TestMessageConversion(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)
	in := message.Message{
		ID:      "m-1",
		FromID:  "alice",
		ToID:    "bob",
		Content: message.At(60.17, 24.94),
		SentAt:  sent,
		Read:    true,
	}

	w := FromMessage(in)
	if w.SentAt != "2024-05-01T12:30:00.123456789Z" {
		t.Fatalf("SentAt = %q", w.SentAt)
	}

	out := w.ToMessage()
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToMessage_BadTime(t *testing.T) {
	for _, raw := range []string{"", "yesterday"} {
		m := Message{ID: "m", From: "a", To: "b", Content: message.Text("hi"), SentAt: raw}.ToMessage()
		if !m.SentAt.IsZero() {
			t.Fatalf("SentAt for %q = %v, want zero", raw, m.SentAt)
		}
		if m.Validate() == nil {
			t.Fatalf("expected Validate to reject sent_at %q", raw)
		}
	}
}

func TestChangesFrame_Decode(t *testing.T) {
	data := []byte(`{"type":"inbox.changes","changes":[
		{"kind":"added","message":{"id":"m1","from":"a","to":"b","content":{"kind":"text","text":"hi"},"sent_at":"2024-05-01T12:00:00Z","read":false}},
		{"kind":"bogus","message":{"id":"m2"}}
	]}`)

	typ, err := PeekType(data)
	if err != nil || typ != TypeInboxChanges {
		t.Fatalf("PeekType = %q, %v", typ, err)
	}

	var frame ChangesFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	events := frame.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Kind != inbox.Added || events[0].Message.Content.Text != "hi" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Kind.Valid() {
		t.Fatalf("second event kind should be invalid, got %q", events[1].Kind)
	}
}

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"  message.read ","partner":"x"}`))
	if err != nil {
		t.Fatalf("PeekType error: %v", err)
	}
	if typ != TypeMessageRead {
		t.Fatalf("type = %q, want %q", typ, TypeMessageRead)
	}
	if _, err := PeekType([]byte(`{`)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}
