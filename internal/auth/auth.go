package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Avicted/courier/internal/user"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

type Session struct {
	Token     string
	UserID    user.ID
	Email     string
	Fullname  string
	ExpiresAt time.Time
}

// CurrentUserID reports the signed-in user the session belongs to.
func (s Session) CurrentUserID() user.ID {
	return s.UserID
}

type Service struct {
	users    *user.Service
	tokens   *tokenStore
	resets   *resetStore
	sender   ResetSender
	now      func() time.Time
	tokenTTL time.Duration
	resetTTL time.Duration
}

func NewService(users *user.Service) *Service {
	return &Service{
		users:    users,
		tokens:   newTokenStore(),
		resets:   newResetStore(),
		now:      time.Now,
		tokenTTL: 24 * time.Hour,
		resetTTL: defaultResetTTL,
	}
}

func (s *Service) Register(ctx context.Context, fullname, email, password string) (user.User, Session, error) {
	if s.users == nil {
		return user.User{}, Session{}, errors.New("user service is required")
	}
	fullname = strings.TrimSpace(fullname)
	if !ValidFullname(fullname) {
		return user.User{}, Session{}, ErrInvalidInput
	}
	if !ValidEmail(email) || !ValidPassword(password) {
		return user.User{}, Session{}, ErrInvalidInput
	}

	hash, err := hashPassword(password)
	if err != nil {
		return user.User{}, Session{}, err
	}

	created, err := s.users.Create(ctx, fullname, email, hash)
	if err != nil {
		return user.User{}, Session{}, err
	}

	session, err := s.issue(created)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return created, session, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (user.User, Session, error) {
	if s.users == nil {
		return user.User{}, Session{}, errors.New("user service is required")
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return user.User{}, Session{}, ErrInvalidInput
	}

	found, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return user.User{}, Session{}, ErrUnauthorized
	}
	if found.PasswordHash == "" {
		return user.User{}, Session{}, ErrUnauthorized
	}
	if err := checkPassword(found.PasswordHash, password); err != nil {
		return user.User{}, Session{}, ErrUnauthorized
	}

	session, err := s.issue(found)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return found, session, nil
}

func (s *Service) ValidateToken(token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, ErrUnauthorized
	}
	return s.tokens.validate(s.now(), token)
}

// Revoke forgets a token. Unknown tokens are ignored.
func (s *Service) Revoke(token string) {
	s.tokens.remove(token)
}

func (s *Service) issue(u user.User) (Session, error) {
	value, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:     value,
		UserID:    u.ID,
		Email:     u.Email,
		Fullname:  u.Fullname,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	s.tokens.store(session)
	return session, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hashed, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type tokenStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newTokenStore() *tokenStore {
	return &tokenStore{sessions: make(map[string]Session)}
}

func (t *tokenStore) store(session Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[session.Token] = session
}

func (t *tokenStore) remove(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, token)
}

// removeUser drops every session of id.
func (t *tokenStore) removeUser(id user.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for token, session := range t.sessions {
		if session.UserID == id {
			delete(t.sessions, token)
		}
	}
}

func (t *tokenStore) validate(now time.Time, token string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[token]
	if !ok {
		return Session{}, ErrUnauthorized
	}
	if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
		delete(t.sessions, token)
		return Session{}, ErrTokenExpired
	}
	return session, nil
}
