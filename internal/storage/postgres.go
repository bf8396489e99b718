package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/securestore"
	"github.com/Avicted/courier/internal/user"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db       *sql.DB
	logger   *slog.Logger
	users    *userRepo
	messages *messageRepo
}

func NewPostgresStore(ctx context.Context, dbURL string, sealer *securestore.Sealer, l *slog.Logger) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return newPostgresStore(db, sealer, l), nil
}

func newPostgresStore(db *sql.DB, sealer *securestore.Sealer, l *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:       db,
		logger:   logger.OrDiscard(l),
		users:    &userRepo{db: db, sealer: sealer},
		messages: &messageRepo{db: db, sealer: sealer},
	}
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return NewMigrator(s.db, migrationsFS, s.logger).Up(ctx)
}

func (s *PostgresStore) Users() user.Repository {
	return s.users
}

func (s *PostgresStore) Messages() message.Repository {
	return s.messages
}
