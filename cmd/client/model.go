package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/courier/internal/apiclient"
	"github.com/Avicted/courier/internal/config"
	"github.com/Avicted/courier/internal/feed"
	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/securelog"
	"github.com/Avicted/courier/internal/user"
)

type appState int

const (
	stateLogin appState = iota
	stateInbox
	stateChat
)

type rootModel struct {
	api    *apiclient.Client
	cfg    config.Client
	logger *slog.Logger
	state  appState
	login  loginModel
	sess   *session
	inbox  inboxModel
	chat   chatModel
	width  int
	height int
}

type authSuccessMsg struct {
	auth *apiclient.AuthResponse
}

type authErrorMsg struct {
	err error
}

func newRootModel(api *apiclient.Client, cfg config.Client, l *slog.Logger) rootModel {
	return rootModel{
		api:    api,
		cfg:    cfg,
		logger: logger.OrDiscard(l),
		state:  stateLogin,
		login:  newLoginModel(api.ServerURL()),
	}
}

func (m rootModel) Init() tea.Cmd {
	return m.login.Init()
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = wsm.Width
		m.height = wsm.Height
		m.login, _ = m.login.Update(msg)
		m.inbox, _, _ = m.inbox.Update(msg)
		if m.state == stateChat {
			m.chat, _, _ = m.chat.Update(msg)
		}
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "ctrl+q", "ctrl+c":
			m.sess.close()
			return m, tea.Quit
		case "ctrl+l":
			if m.sess != nil && m.state != stateLogin {
				sess := m.sess
				m.sess = nil
				m.state = stateLogin
				m.login.loading = false
				return m, sess.logout()
			}
		}
	}

	switch msg := msg.(type) {
	case authSuccessMsg:
		return m, startSession(m.api, msg.auth, m.cfg, m.logger)

	case sessionErrorMsg:
		m.login.loading = false
		m.login.errMsg = fmt.Sprintf("connect: %v", msg.err)
		return m, nil

	case sessionStartedMsg:
		m.sess = msg.sess
		m.login.loading = false
		m.state = stateInbox
		m.inbox = newInboxModel(m.sess.userID(), m.width, m.height)
		m.logger.Info("signed in", "user_id", m.sess.userID())
		return m, m.sess.listen()

	case logoutDoneMsg:
		return m, nil
	}

	if m.sess == nil {
		if m.state != stateLogin {
			return m, nil
		}
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		if m.login.submitting {
			m.login.submitting = false
			m.api = apiclient.New(m.login.serverURL())
			if m.login.isReset {
				return m, tea.Batch(cmd, m.doReset(m.login.email(), m.login.resetCode(), m.login.password()))
			}
			return m, tea.Batch(cmd, m.doAuth(m.login.isRegister, m.login.fullname(), m.login.email(), m.login.password()))
		}
		return m, cmd
	}

	return m.updateSession(msg)
}

func (m rootModel) updateSession(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case inboxUpdateMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		m.inbox.applyUpdate(msg.update)
		return m, m.sess.waitForUpdate()

	case inboxClosedMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		m.sess.close()
		m.sess = nil
		m.state = stateLogin
		m.login.errMsg = "session ended, please sign in again"
		return m, nil

	case feedStateMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		m.inbox.conn = msg.state
		return m, m.sess.waitForState()

	case feedMessageMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		cmds := []tea.Cmd{m.sess.waitForFeedMessage()}
		if m.state == stateChat && msg.msg.Involves(m.chat.partner) {
			m.chat.addMessage(msg.msg)
			m.chat.refreshViewport()
			if !msg.msg.IsFromUser(m.sess.userID()) {
				cmds = append(cmds, m.sess.markRead(m.chat.partner))
			}
		}
		return m, tea.Batch(cmds...)

	case feedErrorMsg:
		if msg.sess != m.sess {
			return m, nil
		}
		var se feed.ServerError
		text := msg.err.Error()
		if errors.As(msg.err, &se) {
			text = se.Message
		}
		if m.state == stateChat {
			m.chat.errMsg = text
		} else {
			m.inbox.errMsg = text
		}
		return m, m.sess.waitForFeedError()

	case usersLoadedMsg:
		if msg.err != nil {
			securelog.Error(m.logger, "client.list_users", msg.err)
			m.inbox.errMsg = "could not load the user directory"
			return m, nil
		}
		m.inbox.setUsers(msg.users)
		return m, nil

	case deleteDoneMsg:
		if msg.err != nil {
			securelog.Error(m.logger, "client.delete_conversation", msg.err)
			m.inbox.errMsg = "deleted here, but the server copy could not be removed"
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.chat.errMsg = fmt.Sprintf("send: %v", msg.err)
		}
		return m, nil

	case setAvatarMsg:
		return m, m.sess.updateProfileImage(msg.url)

	case avatarDoneMsg:
		if msg.err != nil {
			m.chat.errMsg = fmt.Sprintf("profile image: %v", msg.err)
			return m, nil
		}
		m.chat.notice = "profile image updated"
		return m, nil

	case openChatMsg:
		m.state = stateChat
		m.chat = newChatModel(m.sess.userID(), msg.partner, m.inbox.displayName(msg.partner), m.width, m.height)
		return m, tea.Batch(m.chat.Init(), m.sess.loadHistory(msg.partner), m.sess.markRead(msg.partner))

	case backToInboxMsg:
		m.state = stateInbox
		return m, nil
	}

	switch m.state {
	case stateInbox:
		var cmd tea.Cmd
		var counterpart user.ID
		m.inbox, cmd, counterpart = m.inbox.Update(msg)
		if counterpart != "" {
			return m, tea.Batch(cmd, m.sess.deleteConversation(counterpart))
		}
		return m, cmd

	case stateChat:
		var cmd tea.Cmd
		var content *message.Content
		m.chat, cmd, content = m.chat.Update(msg)
		if content != nil {
			return m, tea.Batch(cmd, m.sess.send(m.chat.partner, *content))
		}
		return m, cmd
	}
	return m, nil
}

func (m rootModel) View() string {
	switch m.state {
	case stateLogin:
		return m.login.View()
	case stateInbox:
		return m.inbox.View()
	case stateChat:
		return m.chat.View()
	}
	return ""
}

func (m rootModel) doAuth(register bool, fullname, email, password string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var resp *apiclient.AuthResponse
		var err error
		if register {
			resp, err = api.Register(ctx, fullname, email, password)
		} else {
			resp, err = api.Login(ctx, email, password)
		}
		if err != nil {
			return authErrorMsg{err: err}
		}
		return authSuccessMsg{auth: resp}
	}
}

// doReset requests a code when code is empty and redeems it otherwise.
func (m rootModel) doReset(email, code, password string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if code == "" {
			if err := api.RequestPasswordReset(ctx, email); err != nil {
				return authErrorMsg{err: err}
			}
			return resetRequestedMsg{}
		}
		if err := api.ResetPassword(ctx, code, password); err != nil {
			return authErrorMsg{err: err}
		}
		return resetDoneMsg{}
	}
}
