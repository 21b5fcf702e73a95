//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hushd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, kind Kind, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.ID == "" {
		return errors.New("entry id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(kind, user_id, id, data) VALUES(?,?,?,?)
		 ON CONFLICT(kind, user_id, id) DO UPDATE SET data=excluded.data`,
		string(kind), e.UserID, e.ID, string(e.Data),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, kind Kind, userID, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE kind = ? AND user_id = ? AND id = ?`,
		string(kind), userID, id,
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, id, data FROM entries WHERE kind = ? ORDER BY user_id, id`,
		string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var data string
		if err := rows.Scan(&e.UserID, &e.ID, &data); err != nil {
			return nil, err
		}
		e.Data = []byte(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
