package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

func chatMsg(id, from, to string, minute int) message.Message {
	return message.Message{
		ID:      message.ID(id),
		FromID:  user.ID(from),
		ToID:    user.ID(to),
		Content: message.Text("body " + id),
		SentAt:  base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    message.Kind
		wantErr bool
	}{
		{name: "text", raw: "hello there", kind: message.KindText},
		{name: "image", raw: "/image https://img.example.com/cat.png", kind: message.KindImage},
		{name: "image bad url", raw: "/image not a url", wantErr: true},
		{name: "location", raw: "/location 60.17 24.94", kind: message.KindLocation},
		{name: "location missing lon", raw: "/location 60.17", wantErr: true},
		{name: "location bad lat", raw: "/location north 24.94", wantErr: true},
		{name: "location out of range", raw: "/location 91 24.94", wantErr: true},
		{name: "contact", raw: "/contact Ada Lovelace +358401234567", kind: message.KindContact},
		{name: "contact missing phone", raw: "/contact Ada", wantErr: true},
		{name: "unknown command", raw: "/room list", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseContent(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, got.Kind)
			}
		})
	}

	c, _ := parseContent("/contact Ada Lovelace +358401234567")
	if c.Contact.Name != "Ada Lovelace" || c.Contact.PhoneNumber != "+358401234567" {
		t.Fatalf("unexpected contact %+v", c.Contact)
	}
}

func TestChatAddMessageOrdersAndDedupes(t *testing.T) {
	m := newChatModel("me", "bob", "Bob", 80, 24)
	m.addMessage(chatMsg("m2", "bob", "me", 2))
	m.addMessage(chatMsg("m1", "me", "bob", 1))
	m.addMessage(chatMsg("x", "carol", "me", 3))

	read := chatMsg("m2", "bob", "me", 2)
	read.Read = true
	m.addMessage(read)

	if len(m.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(m.messages))
	}
	if m.messages[0].ID != "m1" || m.messages[1].ID != "m2" {
		t.Fatalf("unexpected order: %s, %s", m.messages[0].ID, m.messages[1].ID)
	}
	if !m.messages[1].Read {
		t.Fatalf("expected the duplicate to replace the earlier copy")
	}
}

func TestChatHistoryLoaded(t *testing.T) {
	m := newChatModel("me", "bob", "Bob", 80, 24)
	if !strings.Contains(m.renderMessages(), "loading history") {
		t.Fatalf("expected loading text")
	}

	m, _, _ = m.Update(historyLoadedMsg{partner: "carol", msgs: []message.Message{chatMsg("c", "carol", "me", 1)}})
	if len(m.messages) != 0 {
		t.Fatalf("history for another partner must be ignored")
	}

	m, _, _ = m.Update(historyLoadedMsg{partner: "bob", err: errors.New("boom")})
	if !strings.Contains(m.errMsg, "boom") {
		t.Fatalf("expected load error, got %q", m.errMsg)
	}

	m, _, _ = m.Update(historyLoadedMsg{partner: "bob"})
	if !strings.Contains(m.renderMessages(), "No messages yet") {
		t.Fatalf("expected empty text")
	}

	m, _, _ = m.Update(historyLoadedMsg{partner: "bob", msgs: []message.Message{chatMsg("m1", "bob", "me", 1)}})
	rendered := m.renderMessages()
	if !strings.Contains(rendered, "Bob: body m1") {
		t.Fatalf("expected rendered message, got %q", rendered)
	}
}

func TestChatEnterReturnsContent(t *testing.T) {
	m := newChatModel("me", "bob", "Bob", 80, 24)
	m.input.SetValue("  hi bob  ")
	m, _, content := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if content == nil || content.Text != "hi bob" {
		t.Fatalf("expected text content, got %+v", content)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input reset")
	}

	_, _, content = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if content != nil {
		t.Fatalf("empty input must not send")
	}

	m.input.SetValue("/location 1000 0")
	m, _, content = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if content != nil || m.errMsg == "" {
		t.Fatalf("expected validation error")
	}
	if m.input.Value() == "" {
		t.Fatalf("input should be kept after an error")
	}
}

func TestChatAvatarCommand(t *testing.T) {
	m := newChatModel("me", "bob", "Bob", 80, 24)
	m.input.SetValue("/avatar")
	m, cmd, content := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || content != nil || !strings.Contains(m.errMsg, "usage: /avatar") {
		t.Fatalf("expected usage error, got %q", m.errMsg)
	}

	m.input.SetValue("/avatar https://img.example.com/me.png")
	m, cmd, content = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if content != nil || cmd == nil {
		t.Fatalf("avatar must not be sent as a message")
	}
	if set, ok := cmd().(setAvatarMsg); !ok || set.url != "https://img.example.com/me.png" {
		t.Fatalf("expected setAvatarMsg, got %#v", cmd())
	}
	if m.input.Value() != "" || m.errMsg != "" {
		t.Fatalf("expected input reset without error")
	}
}

func TestChatEscReturnsToInbox(t *testing.T) {
	m := newChatModel("me", "bob", "Bob", 80, 24)
	_, cmd, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatalf("expected command")
	}
	if _, ok := cmd().(backToInboxMsg); !ok {
		t.Fatalf("expected backToInboxMsg")
	}
}

func TestRenderContent(t *testing.T) {
	if got := renderContent(message.At(60.1699, 24.9384)); got != "[location] 60.16990, 24.93840" {
		t.Fatalf("unexpected location rendering %q", got)
	}
	if got := renderContent(message.ContactCard("Ada", "123")); got != "[contact] Ada 123" {
		t.Fatalf("unexpected contact rendering %q", got)
	}
	if got := renderContent(message.Image("https://x.example/a.png")); got != "[image] https://x.example/a.png" {
		t.Fatalf("unexpected image rendering %q", got)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps", 10)
	want := []string{"the quick", "brown fox", "jumps"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected wrap %q", lines)
	}
	if got := wrapText("   ", 10); len(got) != 1 || got[0] != "" {
		t.Fatalf("expected one empty line, got %q", got)
	}
	if trimLine("abcdefghij", 6) != "abc..." {
		t.Fatalf("unexpected trim")
	}
}
