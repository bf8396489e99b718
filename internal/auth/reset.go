package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Avicted/courier/internal/user"
)

const defaultResetTTL = time.Hour

var ErrResetUnavailable = errors.New("password reset is not configured")

// ResetSender delivers a password reset code to the account owner.
type ResetSender interface {
	SendPasswordReset(ctx context.Context, u user.User, code string) error
}

// SetResetSender enables password resets. Without a sender every request
// fails with ErrResetUnavailable.
func (s *Service) SetResetSender(sender ResetSender) {
	s.sender = sender
}

// RequestPasswordReset issues a one-time code for the account behind email
// and hands it to the ResetSender. Unknown addresses succeed silently so the
// endpoint does not reveal who is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if s.users == nil {
		return errors.New("user service is required")
	}
	if !ValidEmail(email) {
		return ErrInvalidInput
	}
	if s.sender == nil {
		return ErrResetUnavailable
	}

	found, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return err
	}

	code, err := resetCode()
	if err != nil {
		return err
	}
	s.resets.put(found.ID, code, s.now().Add(s.resetTTL))
	return s.sender.SendPasswordReset(ctx, found, code)
}

// ResetPassword consumes code, stores the new password and signs the user
// out everywhere.
func (s *Service) ResetPassword(ctx context.Context, code, password string) error {
	if s.users == nil {
		return errors.New("user service is required")
	}
	code = normalizeResetCode(code)
	if code == "" || !ValidPassword(password) {
		return ErrInvalidInput
	}

	id, err := s.resets.take(s.now(), code)
	if err != nil {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, id, hash); err != nil {
		return err
	}
	s.tokens.removeUser(id)
	return nil
}

// resetCode is 16 characters of base32 so it can be typed from a message.
func resetCode() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func normalizeResetCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

type pendingReset struct {
	userID    user.ID
	expiresAt time.Time
}

// resetStore keeps at most one live code per user.
type resetStore struct {
	mu     sync.Mutex
	byCode map[string]pendingReset
	byUser map[user.ID]string
}

func newResetStore() *resetStore {
	return &resetStore{
		byCode: make(map[string]pendingReset),
		byUser: make(map[user.ID]string),
	}
}

func (r *resetStore) put(id user.ID, code string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[id]; ok {
		delete(r.byCode, old)
	}
	r.byCode[code] = pendingReset{userID: id, expiresAt: expiresAt}
	r.byUser[id] = code
}

func (r *resetStore) take(now time.Time, code string) (user.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.byCode[code]
	if !ok {
		return "", ErrUnauthorized
	}
	delete(r.byCode, code)
	delete(r.byUser, pending.userID)
	if now.After(pending.expiresAt) {
		return "", ErrTokenExpired
	}
	return pending.userID, nil
}
