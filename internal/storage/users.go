package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Avicted/courier/internal/securestore"
	"github.com/Avicted/courier/internal/user"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type userRepo struct {
	db     *sql.DB
	sealer *securestore.Sealer
}

const userColumns = `id, fullname, email_enc, password_hash, profile_image_url, created_at`

func (r *userRepo) Create(ctx context.Context, u user.User) error {
	if u.ID == "" || u.Fullname == "" || u.Email == "" || u.CreatedAt.IsZero() {
		return fmt.Errorf("user id, fullname, email, and created_at are required")
	}
	if r.sealer == nil {
		return fmt.Errorf("sealer is required")
	}

	emailEnc, err := r.sealer.Seal(u.Email)
	if err != nil {
		return fmt.Errorf("seal email: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO users (id, fullname, email_enc, email_hash, password_hash, profile_image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Fullname, emailEnc, r.sealer.Lookup(u.Email), u.PasswordHash, u.ProfileImageURL, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return user.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := r.scan(row)
	if err != nil {
		return user.User{}, fmt.Errorf("select user by id: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if r.sealer == nil {
		return user.User{}, fmt.Errorf("sealer is required")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email_hash = $1`, r.sealer.Lookup(email))
	u, err := r.scan(row)
	if err != nil {
		return user.User{}, fmt.Errorf("select user by email: %w", err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context, limit int) ([]user.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY fullname, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *userRepo) UpdateProfileImage(ctx context.Context, id user.ID, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET profile_image_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("update profile image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile image: %w", err)
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, id user.ID, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *userRepo) scan(row scanner) (user.User, error) {
	var u user.User
	var emailEnc string
	if err := row.Scan(&u.ID, &u.Fullname, &emailEnc, &u.PasswordHash, &u.ProfileImageURL, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	if r.sealer == nil {
		return user.User{}, fmt.Errorf("sealer is required")
	}
	email, err := r.sealer.Open(emailEnc)
	if err != nil {
		return user.User{}, fmt.Errorf("open email: %w", err)
	}
	u.Email = email
	return u, nil
}
