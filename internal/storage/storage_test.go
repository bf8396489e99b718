package storage

import (
	"context"
	"testing"
)

func TestNopStore(t *testing.T) {
	var store Store = NewNopStore()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if store.Users() != nil {
		t.Fatal("expected Users() to return nil")
	}
	if store.Messages() != nil {
		t.Fatal("expected Messages() to return nil")
	}
}
