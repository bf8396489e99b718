package storage

import (
	"context"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Users() user.Repository
	Messages() message.Repository
}

// NopStore satisfies Store without a database. Its repositories are nil, so
// services built on it report "repository is required".
type NopStore struct{}

func NewNopStore() *NopStore {
	return &NopStore{}
}

func (s *NopStore) Close(context.Context) error {
	return nil
}

func (s *NopStore) Migrate(context.Context) error {
	return nil
}

func (s *NopStore) Ping(context.Context) error {
	return nil
}

func (s *NopStore) Users() user.Repository {
	return nil
}

func (s *NopStore) Messages() message.Repository {
	return nil
}
