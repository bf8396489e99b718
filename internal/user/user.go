package user

import (
	"context"
	"errors"
	"time"
)

type ID string

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type User struct {
	ID              ID
	Fullname        string
	Email           string
	PasswordHash    string
	ProfileImageURL string
	CreatedAt       time.Time
}

type Repository interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id ID) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, limit int) ([]User, error)
	UpdateProfileImage(ctx context.Context, id ID, url string) error
	UpdatePasswordHash(ctx context.Context, id ID, hash string) error
}
