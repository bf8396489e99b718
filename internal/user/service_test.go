package user

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeRepo struct {
	users   map[ID]User
	order   []ID
	listErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[ID]User)}
}

func (r *fakeRepo) Create(_ context.Context, u User) error {
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	r.users[u.ID] = u
	r.order = append(r.order, u.ID)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id ID) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, errors.New("not found")
	}
	return u, nil
}

func (r *fakeRepo) GetByEmail(_ context.Context, email string) (User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, errors.New("not found")
}

func (r *fakeRepo) List(_ context.Context, limit int) ([]User, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []User
	for _, id := range r.order {
		if len(out) == limit {
			break
		}
		out = append(out, r.users[id])
	}
	return out, nil
}

func (r *fakeRepo) UpdateProfileImage(_ context.Context, id ID, url string) error {
	u, ok := r.users[id]
	if !ok {
		return errors.New("not found")
	}
	u.ProfileImageURL = url
	r.users[id] = u
	return nil
}

func (r *fakeRepo) UpdatePasswordHash(_ context.Context, id ID, hash string) error {
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	r.users[id] = u
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	svc := NewService(repo)
	n := 0
	svc.idGen = func() ID {
		n++
		return ID(fmt.Sprintf("user-%d", n))
	}
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestCreate_Success(t *testing.T) {
	svc, repo := newTestService()

	u, err := svc.Create(context.Background(), "  Ada Lovelace ", " Ada@Example.COM ", "hash")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if u.ID != "user-1" {
		t.Errorf("ID = %q", u.ID)
	}
	if u.Fullname != "Ada Lovelace" {
		t.Errorf("Fullname = %q", u.Fullname)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalized", u.Email)
	}
	if !u.CreatedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", u.CreatedAt)
	}
	if _, ok := repo.users[u.ID]; !ok {
		t.Fatal("user not persisted")
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	svc, _ := newTestService()

	cases := []struct {
		name, fullname, email, hash string
	}{
		{"empty name", "  ", "a@b.co", "hash"},
		{"empty email", "Ada", "", "hash"},
		{"empty hash", "Ada", "a@b.co", " "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.fullname, tc.email, tc.hash)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), "Ada", "ada@example.com", "h"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := svc.Create(context.Background(), "Other", "ADA@example.com", "h")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreate_NilRepo(t *testing.T) {
	svc := &Service{}
	if _, err := svc.Create(context.Background(), "Ada", "a@b.co", "h"); err == nil {
		t.Fatal("expected error for nil repo")
	}
}

func TestGetByEmail_Normalizes(t *testing.T) {
	svc, _ := newTestService()
	created, _ := svc.Create(context.Background(), "Ada", "ada@example.com", "h")

	got, err := svc.GetByEmail(context.Background(), "  ADA@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("GetByEmail() = %q, want %q", got.ID, created.ID)
	}

	if _, err := svc.GetByEmail(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetByID_Empty(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GetByID(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDirectory_ExcludesCaller(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := svc.Create(ctx, fmt.Sprintf("User %d", i), fmt.Sprintf("u%d@example.com", i), "h"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	users, err := svc.Directory(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("Directory() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	for _, u := range users {
		if u.ID == "user-1" {
			t.Fatal("caller must not be listed")
		}
	}

	all, err := svc.Directory(ctx, "user-9", 0)
	if err != nil {
		t.Fatalf("Directory() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}

	if _, err := svc.Directory(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDirectory_RepoError(t *testing.T) {
	svc, repo := newTestService()
	repo.listErr = errors.New("db down")
	if _, err := svc.Directory(context.Background(), "user-1", 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdateProfileImage(t *testing.T) {
	svc, repo := newTestService()
	u, _ := svc.Create(context.Background(), "Ada", "ada@example.com", "h")

	if err := svc.UpdateProfileImage(context.Background(), u.ID, "https://cdn.example.com/a.png"); err != nil {
		t.Fatalf("UpdateProfileImage() error = %v", err)
	}
	if repo.users[u.ID].ProfileImageURL != "https://cdn.example.com/a.png" {
		t.Fatalf("ProfileImageURL = %q", repo.users[u.ID].ProfileImageURL)
	}

	for _, bad := range []string{"", "not a url", "ftp://cdn/a.png", "https://"} {
		if err := svc.UpdateProfileImage(context.Background(), u.ID, bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("UpdateProfileImage(%q) = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	svc, repo := newTestService()
	u, _ := svc.Create(context.Background(), "Ada", "ada@example.com", "old")

	if err := svc.UpdatePasswordHash(context.Background(), u.ID, "new"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}
	if repo.users[u.ID].PasswordHash != "new" {
		t.Fatalf("PasswordHash = %q", repo.users[u.ID].PasswordHash)
	}
	if err := svc.UpdatePasswordHash(context.Background(), u.ID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.UpdatePasswordHash(context.Background(), "", "h"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
