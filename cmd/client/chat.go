package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

// backToInboxMsg asks the root model to leave the conversation view.
type backToInboxMsg struct{}

// setAvatarMsg asks the root model to update the signed-in user's profile
// image.
type setAvatarMsg struct {
	url string
}

type chatModel struct {
	self        user.ID
	partner     user.ID
	partnerName string
	messages    []message.Message
	loaded      bool
	viewport    viewport.Model
	input       textinput.Model
	errMsg      string
	notice      string
	width       int
	height      int
}

func newChatModel(self, partner user.ID, partnerName string, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message... (/image, /location, /contact, /avatar)"
	input.CharLimit = 4096
	input.Width = clampMin(width-8, 20)
	input.Focus()

	vp := viewport.New(clampMin(width-4, 10), clampMin(height-7, 1))

	return chatModel{
		self:        self,
		partner:     partner,
		partnerName: partnerName,
		viewport:    vp,
		input:       input,
		width:       width,
		height:      height,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update returns the content to send, if the user submitted one.
func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd, *message.Content) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.refreshViewport()
		return m, nil, nil

	case historyLoadedMsg:
		if msg.partner != m.partner {
			return m, nil, nil
		}
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("load history: %v", msg.err)
			return m, nil, nil
		}
		for _, h := range msg.msgs {
			m.addMessage(h)
		}
		m.loaded = true
		m.refreshViewport()
		return m, nil, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return backToInboxMsg{} }, nil

		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, nil, nil
			}
			m.notice = ""
			if raw == "/avatar" || strings.HasPrefix(raw, "/avatar ") {
				url := strings.TrimSpace(strings.TrimPrefix(raw, "/avatar"))
				if url == "" {
					m.errMsg = "usage: /avatar <image url>"
					return m, nil, nil
				}
				m.errMsg = ""
				m.input.Reset()
				return m, func() tea.Msg { return setAvatarMsg{url: url} }, nil
			}
			content, err := parseContent(raw)
			if err != nil {
				m.errMsg = err.Error()
				return m, nil, nil
			}
			m.errMsg = ""
			m.input.Reset()
			return m, nil, &content

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd, nil
}

// addMessage inserts msg in SentAt order. A message already shown is
// replaced, which covers history racing with live frames.
func (m *chatModel) addMessage(msg message.Message) {
	if !msg.Involves(m.partner) || !msg.Involves(m.self) {
		return
	}
	for i := range m.messages {
		if m.messages[i].ID == msg.ID {
			m.messages[i] = msg
			return
		}
	}
	m.messages = append(m.messages, msg)
	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].SentAt.Before(m.messages[j].SentAt)
	})
}

// parseContent turns the input line into message content. Slash commands
// select the non-text kinds.
func parseContent(raw string) (message.Content, error) {
	var content message.Content
	switch {
	case strings.HasPrefix(raw, "/image "):
		content = message.Image(strings.TrimSpace(strings.TrimPrefix(raw, "/image ")))
	case strings.HasPrefix(raw, "/location "):
		parts := strings.Fields(strings.TrimPrefix(raw, "/location "))
		if len(parts) != 2 {
			return message.Content{}, fmt.Errorf("usage: /location <latitude> <longitude>")
		}
		lat, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return message.Content{}, fmt.Errorf("bad latitude %q", parts[0])
		}
		lon, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return message.Content{}, fmt.Errorf("bad longitude %q", parts[1])
		}
		content = message.At(lat, lon)
	case strings.HasPrefix(raw, "/contact "):
		rest := strings.TrimSpace(strings.TrimPrefix(raw, "/contact "))
		idx := strings.LastIndex(rest, " ")
		if idx <= 0 {
			return message.Content{}, fmt.Errorf("usage: /contact <name> <phone>")
		}
		content = message.ContactCard(strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+1:]))
	case strings.HasPrefix(raw, "/"):
		return message.Content{}, fmt.Errorf("unknown command; try /image, /location or /contact")
	default:
		content = message.Text(raw)
	}
	if err := content.Validate(); err != nil {
		return message.Content{}, err
	}
	return content, nil
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *chatModel) updateLayout() {
	m.viewport.Width = clampMin(m.width-4, 10)
	m.viewport.Height = clampMin(m.height-7, 1)
	m.input.Width = clampMin(m.width-8, 20)
}

func (m *chatModel) renderMessages() string {
	if !m.loaded && len(m.messages) == 0 {
		return labelStyle.Render("  loading history...")
	}
	if len(m.messages) == 0 {
		return labelStyle.Render("  No messages yet. Send one to start chatting!")
	}

	var b strings.Builder
	for _, msg := range m.messages {
		sender := m.partnerName
		style := recvMsgStyle
		if msg.IsFromUser(m.self) {
			sender = "you"
			style = sentMsgStyle
		} else if msg.Read {
			style = historyMsgStyle
		}
		for _, line := range formatMessageLines(msg.SentAt.Local().Format("15:04"), sender, renderContent(msg.Content), m.viewport.Width) {
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderContent(c message.Content) string {
	switch c.Kind {
	case message.KindImage:
		return "[image] " + c.ImageURL
	case message.KindLocation:
		if c.Location != nil {
			return fmt.Sprintf("[location] %.5f, %.5f", c.Location.Latitude, c.Location.Longitude)
		}
	case message.KindContact:
		if c.Contact != nil {
			return fmt.Sprintf("[contact] %s %s", c.Contact.Name, c.Contact.PhoneNumber)
		}
	}
	return c.Preview()
}

func (m chatModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("  %s  %s  %s",
		appNameStyle.Render("* courier"),
		headerStyle.Render(m.partnerName),
		labelStyle.Render(shortID(string(m.partner))),
	)
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(separator(m.width))
	b.WriteString("\n")
	b.WriteString(activeInputStyle.Render("  > ") + m.input.View())
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render("  x " + m.errMsg))
	} else if m.notice != "" {
		b.WriteString(connectedStyle.Render("  " + m.notice))
	} else {
		b.WriteString(helpStyle.Render("  enter: send - esc: inbox - pgup/pgdn: scroll - ctrl+q: quit"))
	}
	return lipgloss.NewStyle().MaxWidth(max(m.width, 1)).Render(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clampMin(v, minimum int) int {
	if v < minimum {
		return minimum
	}
	return v
}

func trimLine(line string, max int) string {
	if max <= 0 || len(line) <= max {
		return line
	}
	if max <= 3 {
		return line[:max]
	}
	return line[:max-3] + "..."
}

func formatMessageLines(ts, sender, body string, width int) []string {
	prefix := fmt.Sprintf("  [%s] %s: ", ts, sender)
	contPrefix := strings.Repeat(" ", len(prefix))
	available := width - len(prefix)
	if available < 10 {
		available = 10
	}

	var out []string
	for i, line := range strings.Split(body, "\n") {
		for j, part := range wrapText(line, available) {
			if i == 0 && j == 0 {
				out = append(out, prefix+part)
				continue
			}
			out = append(out, contPrefix+part)
		}
	}
	return out
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= width {
			current = current + " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines
}
