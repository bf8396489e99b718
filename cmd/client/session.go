package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/courier/internal/apiclient"
	"github.com/Avicted/courier/internal/config"
	"github.com/Avicted/courier/internal/feed"
	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

const (
	requestTimeout = 5 * time.Second
	directoryLimit = 200
	historyLimit   = 50
)

// session is everything that lives between login and logout.
type session struct {
	auth   apiclient.AuthResponse
	api    *apiclient.Client
	feed   *feed.Client
	owner  *inbox.Owner
	sub    *inbox.Subscription
	states chan feed.State
	cancel context.CancelFunc
}

func (s *session) userID() user.ID {
	return s.auth.CurrentUserID()
}

// close stops the feed and the inbox owner and waits for the owner to exit.
func (s *session) close() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.owner.Done()
}

type sessionStartedMsg struct {
	sess *session
}

type sessionErrorMsg struct {
	err error
}

// Messages read from session channels carry the session so that a late
// delivery after logout is recognisable.
type inboxUpdateMsg struct {
	sess   *session
	update inbox.Update
}

type inboxClosedMsg struct {
	sess *session
}

type feedMessageMsg struct {
	sess *session
	msg  message.Message
}

type feedErrorMsg struct {
	sess *session
	err  error
}

type feedStateMsg struct {
	sess  *session
	state feed.State
}

type usersLoadedMsg struct {
	users []apiclient.User
	err   error
}

type historyLoadedMsg struct {
	partner user.ID
	msgs    []message.Message
	err     error
}

type deleteDoneMsg struct {
	counterpart user.ID
	err         error
}

type sendDoneMsg struct {
	err error
}

type avatarDoneMsg struct {
	err error
}

type logoutDoneMsg struct{}

// startSession connects the live feed and starts the inbox owner. The first
// inbox update is the snapshot the server sends right after connecting.
func startSession(api *apiclient.Client, resp *apiclient.AuthResponse, cfg config.Client, l *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		authed := api.WithToken(resp.Token)
		states := make(chan feed.State, 8)
		fc := feed.New(api.ServerURL(), resp.Token,
			feed.WithLogger(l),
			feed.WithReconnect(cfg.Reconnect.Initial, cfg.Reconnect.Max),
			feed.WithStateListener(func(st feed.State) {
				select {
				case states <- st:
				default:
				}
			}),
		)
		owner := inbox.NewOwner(inbox.New(resp, inbox.WithLogger(l)), fc, authed, l)

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- owner.Run(ctx) }()

		subCtx, subCancel := context.WithTimeout(ctx, requestTimeout)
		defer subCancel()
		sub, err := owner.Subscribe(subCtx)
		if err != nil {
			cancel()
			if errors.Is(err, inbox.ErrStopped) {
				if runE := <-runErr; runE != nil {
					err = runE
				}
			}
			return sessionErrorMsg{err: err}
		}
		return sessionStartedMsg{sess: &session{
			auth:   *resp,
			api:    authed,
			feed:   fc,
			owner:  owner,
			sub:    sub,
			states: states,
			cancel: cancel,
		}}
	}
}

func (s *session) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-s.sub.Updates()
		if !ok {
			return inboxClosedMsg{sess: s}
		}
		return inboxUpdateMsg{sess: s, update: u}
	}
}

// The feed channels are never closed, so the waits below also return once
// the owner has stopped.

func (s *session) waitForFeedMessage() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-s.feed.Messages():
			return feedMessageMsg{sess: s, msg: msg}
		case <-s.owner.Done():
			return nil
		}
	}
}

func (s *session) waitForFeedError() tea.Cmd {
	return func() tea.Msg {
		select {
		case err := <-s.feed.Errors():
			return feedErrorMsg{sess: s, err: err}
		case <-s.owner.Done():
			return nil
		}
	}
}

func (s *session) waitForState() tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-s.states:
			return feedStateMsg{sess: s, state: st}
		case <-s.owner.Done():
			return nil
		}
	}
}

// listen arms every session channel once. Each handler re-arms its own.
func (s *session) listen() tea.Cmd {
	return tea.Batch(
		s.waitForUpdate(),
		s.waitForFeedMessage(),
		s.waitForFeedError(),
		s.waitForState(),
		s.loadUsers(),
	)
}

func (s *session) loadUsers() tea.Cmd {
	api := s.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		users, err := api.ListUsers(ctx, directoryLimit)
		return usersLoadedMsg{users: users, err: err}
	}
}

func (s *session) loadHistory(partner user.ID) tea.Cmd {
	api := s.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msgs, err := api.ListConversation(ctx, partner, historyLimit)
		return historyLoadedMsg{partner: partner, msgs: msgs, err: err}
	}
}

func (s *session) deleteConversation(counterpart user.ID) tea.Cmd {
	owner := s.owner
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return deleteDoneMsg{counterpart: counterpart, err: owner.Delete(ctx, counterpart)}
	}
}

func (s *session) send(recipient user.ID, content message.Content) tea.Cmd {
	fc := s.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sendDoneMsg{err: fc.Send(ctx, recipient, content)}
	}
}

func (s *session) updateProfileImage(url string) tea.Cmd {
	api := s.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return avatarDoneMsg{err: api.UpdateProfileImage(ctx, url)}
	}
}

// markRead is fire and forget; a failure only leaves the unread marker on.
func (s *session) markRead(partner user.ID) tea.Cmd {
	fc := s.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_ = fc.MarkRead(ctx, partner)
		return nil
	}
}

func (s *session) logout() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_ = s.api.Logout(ctx)
		s.close()
		return logoutDoneMsg{}
	}
}
