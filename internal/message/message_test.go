package message

import (
	"errors"
	"testing"
	"time"

	"github.com/Avicted/courier/internal/user"
)

func validMessage() Message {
	return Message{
		ID:      "m1",
		FromID:  "alice",
		ToID:    "bob",
		Content: Text("hi"),
		SentAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCounterpart(t *testing.T) {
	m := validMessage()
	if got := m.Counterpart("alice"); got != "bob" {
		t.Errorf("Counterpart(alice) = %q, want bob", got)
	}
	if got := m.Counterpart("bob"); got != "alice" {
		t.Errorf("Counterpart(bob) = %q, want alice", got)
	}
	if !m.IsFromUser("alice") || m.IsFromUser("bob") {
		t.Error("IsFromUser mismatch")
	}
}

func TestInvolves(t *testing.T) {
	m := validMessage()
	for id, want := range map[user.ID]bool{"alice": true, "bob": true, "carol": false, "": false} {
		if got := m.Involves(id); got != want {
			t.Errorf("Involves(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Message)
		ok     bool
	}{
		{"valid", func(*Message) {}, true},
		{"missing id", func(m *Message) { m.ID = "" }, false},
		{"missing sender", func(m *Message) { m.FromID = "" }, false},
		{"missing recipient", func(m *Message) { m.ToID = "" }, false},
		{"zero time", func(m *Message) { m.SentAt = time.Time{} }, false},
		{"empty content", func(m *Message) { m.Content = Content{} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validMessage()
			tc.mutate(&m)
			err := m.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Validate() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestContentValidate(t *testing.T) {
	cases := []struct {
		name    string
		content Content
		ok      bool
	}{
		{"text", Text("hello"), true},
		{"blank text", Text("  "), false},
		{"image", Image("https://cdn.example.com/a.jpg"), true},
		{"image relative", Image("/a.jpg"), false},
		{"image ftp", Image("ftp://cdn.example.com/a.jpg"), false},
		{"location", At(60.17, 24.94), true},
		{"location edge", At(-90, 180), true},
		{"latitude out of range", At(91, 0), false},
		{"longitude out of range", At(0, -181), false},
		{"location nil", Content{Kind: KindLocation}, false},
		{"contact", ContactCard("Ada", "+358 40 123"), true},
		{"contact no phone", ContactCard("Ada", ""), false},
		{"contact nil", Content{Kind: KindContact}, false},
		{"unknown kind", Content{Kind: "video"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.content.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	cases := map[string]Content{
		"hello":             Text("hello"),
		"Attachment: Image": Image("https://x.io/a.png"),
		"Shared location":   At(1, 2),
		"Shared contact":    ContactCard("Ada", "123"),
	}
	for want, c := range cases {
		if got := c.Preview(); got != want {
			t.Errorf("Preview(%s) = %q, want %q", c.Kind, got, want)
		}
	}
}

func TestContentEqual(t *testing.T) {
	if !Text("a").Equal(Text("a")) || Text("a").Equal(Text("b")) {
		t.Error("text equality")
	}
	if !At(1, 2).Equal(At(1, 2)) || At(1, 2).Equal(At(1, 3)) {
		t.Error("location equality")
	}
	if !ContactCard("a", "1").Equal(ContactCard("a", "1")) || ContactCard("a", "1").Equal(ContactCard("a", "2")) {
		t.Error("contact equality")
	}
	if Text("a").Equal(Image("a")) {
		t.Error("different kinds must differ")
	}
	if !(Content{Kind: KindLocation}).Equal(Content{Kind: KindLocation}) {
		t.Error("nil payloads of same kind are equal")
	}
}
