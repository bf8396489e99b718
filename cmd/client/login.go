package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/courier/internal/auth"
)

type loginModel struct {
	serverInput   textinput.Model
	fullnameInput textinput.Model
	emailInput    textinput.Model
	passwordInput textinput.Model
	confirmInput  textinput.Model
	codeInput     textinput.Model
	focusIdx      int
	isRegister    bool
	isReset       bool
	submitting    bool
	errMsg        string
	notice        string
	loading       bool
	width         int
	height        int
}

const maxFullnameLen = 64

func newLoginModel(defaultServer string) loginModel {
	server := textinput.New()
	server.Placeholder = "http://localhost:8080"
	server.CharLimit = 256
	server.Width = 40
	server.SetValue(strings.TrimSpace(defaultServer))
	server.Focus()

	fullname := textinput.New()
	fullname.Placeholder = "full name"
	fullname.CharLimit = maxFullnameLen
	fullname.Width = 40

	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.Width = 40

	password := textinput.New()
	password.Placeholder = "password (min 8 chars, letters and digits)"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'
	password.CharLimit = 128
	password.Width = 40

	confirm := textinput.New()
	confirm.Placeholder = "confirm password"
	confirm.EchoMode = textinput.EchoPassword
	confirm.EchoCharacter = '*'
	confirm.CharLimit = 128
	confirm.Width = 40

	code := textinput.New()
	code.Placeholder = "leave empty to request a code"
	code.CharLimit = 32
	code.Width = 40

	return loginModel{
		serverInput:   server,
		fullnameInput: fullname,
		emailInput:    email,
		passwordInput: password,
		confirmInput:  confirm,
		codeInput:     code,
	}
}

// resetRequestedMsg reports that the server accepted a reset request.
type resetRequestedMsg struct{}

// resetDoneMsg reports that a reset code was redeemed.
type resetDoneMsg struct{}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) serverURL() string { return strings.TrimSpace(m.serverInput.Value()) }
func (m loginModel) fullname() string  { return strings.TrimSpace(m.fullnameInput.Value()) }
func (m loginModel) email() string     { return strings.TrimSpace(m.emailInput.Value()) }
func (m loginModel) password() string  { return m.passwordInput.Value() }
func (m loginModel) resetCode() string { return strings.TrimSpace(m.codeInput.Value()) }

// fields lists the inputs in focus order for the current mode.
func (m *loginModel) fields() []*textinput.Model {
	if m.isRegister {
		return []*textinput.Model{&m.serverInput, &m.fullnameInput, &m.emailInput, &m.passwordInput, &m.confirmInput}
	}
	if m.isReset {
		return []*textinput.Model{&m.serverInput, &m.emailInput, &m.codeInput, &m.passwordInput, &m.confirmInput}
	}
	return []*textinput.Model{&m.serverInput, &m.emailInput, &m.passwordInput}
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case authErrorMsg:
		m.loading = false
		m.errMsg = msg.err.Error()
		return m, nil

	case resetRequestedMsg:
		m.loading = false
		m.notice = "if the address is registered, a reset code is on its way"
		m.focusIdx = 2
		m.applyFocus()
		return m, nil

	case resetDoneMsg:
		m.loading = false
		m.isReset = false
		m.codeInput.Reset()
		m.passwordInput.Reset()
		m.confirmInput.Reset()
		m.notice = "password changed, sign in with the new one"
		m.focusIdx = 2
		m.applyFocus()
		return m, nil

	case tea.KeyMsg:
		m.errMsg = ""
		switch msg.String() {
		case "tab", "shift+tab", "down", "up", "ctrl+n", "ctrl+p":
			dir := 1
			if msg.String() == "up" || msg.String() == "shift+tab" || msg.String() == "ctrl+p" {
				dir = -1
			}
			m.moveFocus(dir)
			return m, nil

		case "ctrl+r":
			m.isRegister = !m.isRegister
			m.isReset = false
			m.notice = ""
			m.focusIdx = 0
			m.applyFocus()
			return m, nil

		case "ctrl+f":
			m.isReset = !m.isReset
			m.isRegister = false
			m.notice = ""
			m.focusIdx = 0
			m.applyFocus()
			return m, nil

		case "enter":
			if m.loading {
				return m, nil
			}
			if errMsg := m.validateSubmit(); errMsg != "" {
				m.errMsg = errMsg
				return m, nil
			}
			m.notice = ""
			m.loading = true
			m.submitting = true
			return m, nil
		}
	}

	fields := m.fields()
	idx := m.focusIdx
	if idx < 0 || idx >= len(fields) {
		idx = 0
	}
	var cmd tea.Cmd
	*fields[idx], cmd = fields[idx].Update(msg)
	return m, cmd
}

func (m *loginModel) applyFocus() {
	for _, in := range []*textinput.Model{&m.serverInput, &m.fullnameInput, &m.emailInput, &m.codeInput, &m.passwordInput, &m.confirmInput} {
		in.Blur()
	}
	fields := m.fields()
	if m.focusIdx >= len(fields) {
		m.focusIdx = len(fields) - 1
	}
	fields[m.focusIdx].Focus()
}

func (m *loginModel) moveFocus(dir int) {
	count := len(m.fields())
	m.focusIdx = (m.focusIdx + dir + count) % count
	m.applyFocus()
}

func (m loginModel) validateSubmit() string {
	server := m.serverURL()
	if server == "" {
		return "server url is required"
	}
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		return "server url must start with http:// or https://"
	}
	if m.isReset {
		return m.validateReset()
	}
	if m.isRegister {
		if m.fullname() == "" {
			return "full name is required"
		}
		if !auth.ValidFullname(m.fullname()) {
			return "full name may only contain letters, digits and single spaces"
		}
	}
	if !auth.ValidEmail(m.email()) {
		return "enter a valid email address"
	}
	if m.password() == "" {
		return "password is required"
	}
	if m.isRegister {
		if !auth.ValidPassword(m.password()) {
			return "password needs 8+ characters with a letter and a digit"
		}
		if m.password() != m.confirmInput.Value() {
			return "passwords do not match"
		}
	}
	return ""
}

// validateReset checks the reset form. An empty code asks for a new one.
func (m loginModel) validateReset() string {
	if m.resetCode() == "" {
		if !auth.ValidEmail(m.email()) {
			return "enter a valid email address"
		}
		return ""
	}
	if !auth.ValidPassword(m.password()) {
		return "password needs 8+ characters with a letter and a digit"
	}
	if m.password() != m.confirmInput.Value() {
		return "passwords do not match"
	}
	return ""
}

func (m loginModel) View() string {
	var b strings.Builder

	topPad := 0
	if m.height > 15 {
		topPad = (m.height - 15) / 3
	}
	b.WriteString(strings.Repeat("\n", topPad))

	b.WriteString(centerText(appNameStyle.Render("*  courier"), m.width))
	b.WriteString("\n")
	b.WriteString(centerText(subtitleStyle.Render("one-to-one messaging"), m.width))
	b.WriteString("\n\n")

	mode := "Login"
	switch {
	case m.isRegister:
		mode = "Register"
	case m.isReset:
		mode = "Reset Password"
	}
	b.WriteString(centerText(headerStyle.Render(fmt.Sprintf("[ %s ]", mode)), m.width))
	b.WriteString("\n\n")

	labels := []string{"Server", "Email", "Password"}
	inputs := []textinput.Model{m.serverInput, m.emailInput, m.passwordInput}
	if m.isRegister {
		labels = []string{"Server", "Full Name", "Email", "Password", "Confirm Password"}
		inputs = []textinput.Model{m.serverInput, m.fullnameInput, m.emailInput, m.passwordInput, m.confirmInput}
	}
	if m.isReset {
		labels = []string{"Server", "Email", "Reset Code", "New Password", "Confirm Password"}
		inputs = []textinput.Model{m.serverInput, m.emailInput, m.codeInput, m.passwordInput, m.confirmInput}
	}
	maxLabel := 0
	for _, label := range labels {
		if len(label) > maxLabel {
			maxLabel = len(label)
		}
	}
	for i, input := range inputs {
		line := labelStyle.Render(fmt.Sprintf("  %-*s: ", maxLabel, labels[i])) + input.View()
		b.WriteString(centerText(line, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(centerText(errorStyle.Render("  x "+m.errMsg), m.width))
		b.WriteString("\n\n")
	} else if m.notice != "" {
		b.WriteString(centerText(connectedStyle.Render("  "+m.notice), m.width))
		b.WriteString("\n\n")
	}

	if m.loading {
		b.WriteString(centerText(labelStyle.Render("  connecting..."), m.width))
		b.WriteString("\n\n")
	}

	b.WriteString(centerText(helpStyle.Render("up/down or tab: switch field - ctrl+r: register/login - ctrl+f: forgot password - enter: submit - ctrl+q: quit"), m.width))

	return b.String()
}
