package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Avicted/courier/internal/apiclient"
	"github.com/Avicted/courier/internal/feed"
	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/user"
)

// openChatMsg asks the root model to switch to the conversation view.
type openChatMsg struct {
	partner user.ID
}

type inboxModel struct {
	self     user.ID
	list     []inbox.Summary
	seq      uint64
	cursor   int
	names    map[user.ID]string
	users    []apiclient.User
	picking  bool
	pickIdx  int
	conn     feed.State
	errMsg   string
	width    int
	height   int
	redraws  int
	received bool
}

func newInboxModel(self user.ID, width, height int) inboxModel {
	return inboxModel{
		self:   self,
		names:  make(map[user.ID]string),
		conn:   feed.StateLive,
		width:  width,
		height: height,
	}
}

// applyUpdate follows the delta when no update was skipped and redraws from
// the full list otherwise.
func (m *inboxModel) applyUpdate(u inbox.Update) {
	if m.received && u.Seq == m.seq+1 {
		m.list = u.Delta.Apply(m.list, u.List)
	} else {
		m.list = append([]inbox.Summary(nil), u.List...)
		m.redraws++
	}
	m.seq = u.Seq
	m.received = true
	m.clampCursor()
}

func (m *inboxModel) clampCursor() {
	if m.cursor >= len(m.list) {
		m.cursor = len(m.list) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *inboxModel) setUsers(users []apiclient.User) {
	m.users = m.users[:0]
	for _, u := range users {
		m.names[u.ID] = u.Fullname
		if u.ID != m.self {
			m.users = append(m.users, u)
		}
	}
}

func (m inboxModel) displayName(id user.ID) string {
	if name := m.names[id]; name != "" {
		return name
	}
	return shortID(string(id))
}

func (m inboxModel) selected() (inbox.Summary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.list) {
		return inbox.Summary{}, false
	}
	return m.list[m.cursor], true
}

// Update returns the counterpart to delete, if the user asked for one.
func (m inboxModel) Update(msg tea.Msg) (inboxModel, tea.Cmd, user.ID) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil, ""

	case tea.KeyMsg:
		m.errMsg = ""
		if m.picking {
			return m.updatePicker(msg)
		}
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.list)-1 {
				m.cursor++
			}
		case "enter":
			if s, ok := m.selected(); ok {
				partner := s.Counterpart
				return m, func() tea.Msg { return openChatMsg{partner: partner} }, ""
			}
		case "d", "delete":
			if s, ok := m.selected(); ok {
				return m, nil, s.Counterpart
			}
		case "n":
			if len(m.users) == 0 {
				m.errMsg = "no other users yet"
				return m, nil, ""
			}
			m.picking = true
			m.pickIdx = 0
		}
	}
	return m, nil, ""
}

func (m inboxModel) updatePicker(msg tea.KeyMsg) (inboxModel, tea.Cmd, user.ID) {
	switch msg.String() {
	case "up", "k":
		if m.pickIdx > 0 {
			m.pickIdx--
		}
	case "down", "j":
		if m.pickIdx < len(m.users)-1 {
			m.pickIdx++
		}
	case "enter":
		m.picking = false
		if m.pickIdx < len(m.users) {
			partner := m.users[m.pickIdx].ID
			return m, func() tea.Msg { return openChatMsg{partner: partner} }, ""
		}
	case "esc":
		m.picking = false
	}
	return m, nil, ""
}

func (m inboxModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("  %s  %s", appNameStyle.Render("* courier"), headerStyle.Render("Inbox"))
	status := connStatus(m.conn)
	gap := max(1, m.width-lipgloss.Width(header)-lipgloss.Width(status)-2)
	b.WriteString(header + strings.Repeat(" ", gap) + status)
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	if m.picking {
		b.WriteString(m.renderPicker())
	} else {
		b.WriteString(m.renderList())
	}
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render("  x " + m.errMsg))
	} else if m.picking {
		b.WriteString(helpStyle.Render("  up/down: choose - enter: start chat - esc: cancel"))
	} else {
		b.WriteString(helpStyle.Render("  enter: open - n: new chat - d: delete - ctrl+l: logout - ctrl+q: quit"))
	}
	return b.String()
}

func (m inboxModel) renderList() string {
	if !m.received {
		return labelStyle.Render("  loading conversations...")
	}
	if len(m.list) == 0 {
		return labelStyle.Render("  No conversations yet. Press n to start one.")
	}
	width := clampMin(m.width-4, 20)
	rows := clampMin(m.height-5, 1)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}

	var b strings.Builder
	for i := start; i < len(m.list) && i < start+rows; i++ {
		s := m.list[i]
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		unread := !s.Message.Read && !s.Message.IsFromUser(m.self)
		marker := " "
		if unread {
			marker = "*"
		}
		name := m.displayName(s.Counterpart)
		preview := s.Message.Content.Preview()
		if s.Message.IsFromUser(m.self) {
			preview = "You: " + preview
		}
		line := fmt.Sprintf("%s%s %-20s %s  %s", prefix, marker, trimLine(name, 20), formatStamp(s.Message.SentAt), preview)
		line = trimLine(line, width)

		style := previewStyle
		switch {
		case i == m.cursor:
			style = selectedRowStyle
		case unread:
			style = unreadStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m inboxModel) renderPicker() string {
	lines := make([]string, 0, len(m.users)+2)
	lines = append(lines, "Start a conversation", "")
	for i, u := range m.users {
		prefix := "  "
		if i == m.pickIdx {
			prefix = "> "
		}
		line := fmt.Sprintf("%s%s <%s>", prefix, u.Fullname, u.Email)
		if u.Online {
			line += " (online)"
		}
		lines = append(lines, trimLine(line, clampMin(m.width-10, 20)))
	}
	box := pickerBoxStyle.Render(strings.Join(lines, "\n"))
	return lipgloss.Place(clampMin(m.width-4, 20), clampMin(m.height-5, 1), lipgloss.Center, lipgloss.Center, box)
}

func connStatus(st feed.State) string {
	switch st {
	case feed.StateLive:
		return connectedStyle.Render("online")
	case feed.StateConnecting, feed.StateBackoff:
		return reconnectingStyle.Render("reconnecting")
	default:
		return disconnectedStyle.Render("offline")
	}
}

// formatStamp shows the time for today's messages and the date otherwise.
func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "     "
	}
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2")
}
