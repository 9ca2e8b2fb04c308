package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/teralink/dbopen"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_records (
	position  INTEGER PRIMARY KEY,
	name      TEXT NOT NULL,
	value     TEXT NOT NULL,
	domain    TEXT NOT NULL DEFAULT '',
	path      TEXT NOT NULL DEFAULT '',
	expires   REAL NOT NULL DEFAULT -1,
	http_only INTEGER NOT NULL DEFAULT 0,
	secure    INTEGER NOT NULL DEFAULT 0,
	same_site TEXT NOT NULL DEFAULT '',
	session   INTEGER NOT NULL DEFAULT 0
);`

// SQLiteStore keeps the snapshot in a session_records table. Save replaces
// every row in one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the snapshot database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStore wraps an already-open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: "sqlite"}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, domain, path, expires, http_only, secure, same_site, session
		FROM session_records ORDER BY position`)
	if err != nil {
		return Snapshot{}, &IOError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.Value, &r.Domain, &r.Path, &r.Expires,
			&r.HTTPOnly, &r.Secure, &r.SameSite, &r.Session); err != nil {
			return Snapshot{}, &IOError{Op: "load", Path: s.path, Err: err}
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, &IOError{Op: "load", Path: s.path, Err: err}
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_records`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO session_records
				(position, name, value, domain, path, expires, http_only, secure, same_site, session)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range snap.Records {
			if _, err := stmt.ExecContext(ctx, i, r.Name, r.Value, r.Domain, r.Path,
				r.Expires, r.HTTPOnly, r.Secure, r.SameSite, r.Session); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
