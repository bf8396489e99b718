package user

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultDirectoryLimit = 50
	maxDirectoryLimit     = 200
)

type Service struct {
	repo  Repository
	idGen func() ID
	now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		idGen: func() ID {
			return ID(uuid.NewString())
		},
		now: time.Now,
	}
}

func (s *Service) Create(ctx context.Context, fullname, email, passwordHash string) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}

	name := strings.TrimSpace(fullname)
	addr := NormalizeEmail(email)
	if name == "" || addr == "" || strings.TrimSpace(passwordHash) == "" {
		return User{}, ErrInvalidInput
	}

	u := User{
		ID:           s.idGen(),
		Fullname:     name,
		Email:        addr,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id ID) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}
	if id == "" {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}
	addr := NormalizeEmail(email)
	if addr == "" {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetByEmail(ctx, addr)
}

// Directory lists the people the caller can start a conversation with. The
// caller is never part of the result.
func (s *Service) Directory(ctx context.Context, caller ID, limit int) ([]User, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if caller == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultDirectoryLimit
	}
	if limit > maxDirectoryLimit {
		limit = maxDirectoryLimit
	}

	// one extra row so the caller can be filtered without shrinking the page
	users, err := s.repo.List(ctx, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(users))
	for _, u := range users {
		if u.ID == caller {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Service) UpdateProfileImage(ctx context.Context, id ID, imageURL string) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if id == "" {
		return ErrInvalidInput
	}
	imageURL = strings.TrimSpace(imageURL)
	parsed, err := url.Parse(imageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdateProfileImage(ctx, id, imageURL)
}

func (s *Service) UpdatePasswordHash(ctx context.Context, id ID, hash string) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if id == "" || strings.TrimSpace(hash) == "" {
		return ErrInvalidInput
	}
	return s.repo.UpdatePasswordHash(ctx, id, hash)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
