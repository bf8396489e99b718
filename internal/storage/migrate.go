package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Avicted/courier/internal/logger"
)

// migrationLockID keys the session advisory lock that keeps two servers from
// migrating the same database at once.
const migrationLockID int64 = 0x636f7572696572

type Migrator struct {
	db     *sql.DB
	fs     fs.FS
	logger *slog.Logger
}

func NewMigrator(db *sql.DB, migrations fs.FS, l *slog.Logger) *Migrator {
	return &Migrator{db: db, fs: migrations, logger: logger.OrDiscard(l)}
}

func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("db is required")
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if err := m.ensureTable(ctx, conn); err != nil {
		return err
	}

	pending, err := m.pending(ctx, conn)
	if err != nil {
		return err
	}

	for _, file := range pending {
		id := filepath.Base(file)
		content, err := fs.ReadFile(m.fs, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		sqlText := stripLineComments(string(content))
		if strings.TrimSpace(sqlText) == "" {
			if err := m.recordApplied(ctx, conn, id); err != nil {
				return err
			}
			continue
		}

		if err := m.applyOne(ctx, conn, id, sqlText); err != nil {
			return err
		}
		m.logger.Info("migration applied", "id", id)
	}

	return nil
}

func (m *Migrator) pending(ctx context.Context, conn *sql.Conn) ([]string, error) {
	files, err := fs.Glob(m.fs, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Strings(files)

	applied, err := m.appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, file := range files {
		if !applied[filepath.Base(file)] {
			out = append(out, file)
		}
	}
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return applied, nil
}

func (m *Migrator) applyOne(ctx context.Context, conn *sql.Conn, id, sqlText string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, id, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", id, err)
	}
	return nil
}

func (m *Migrator) recordApplied(ctx context.Context, conn *sql.Conn, id string) error {
	_, err := conn.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

func stripLineComments(sqlText string) string {
	lines := strings.Split(sqlText, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
