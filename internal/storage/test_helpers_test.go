package storage

import (
	"bytes"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Avicted/courier/internal/securestore"
)

func newRepoSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("sqlmock expectations: %v", err)
		}
		_ = db.Close()
	}
	return db, mock, cleanup
}

func testSealer(t *testing.T) *securestore.Sealer {
	t.Helper()
	s, err := securestore.NewSealer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func mustSeal(t *testing.T, s *securestore.Sealer, v string) string {
	t.Helper()
	out, err := s.Seal(v)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return out
}
