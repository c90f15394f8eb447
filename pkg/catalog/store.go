// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecanlabs/weave/pkg/errors"
)

const skillsTable = "weave_skills"

// SQLiteStore persists skill records in sqlite. One row per skill id.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, log: slog.Default()}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) a sqlite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.KindConfig, "open skill store", err).
			WithContext("path", path)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) ensureSchema() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'db',
		diagram_json BLOB,
		mapping_json BLOB,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%s_name ON %s(name);`,
		skillsTable, skillsTable, skillsTable)
	if _, err := s.db.Exec(ddl); err != nil {
		return errors.New(errors.KindInternal, "create skill schema", err)
	}
	return nil
}

// Save upserts a record by id.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.Source == SourceCode {
		// Code-defined skills are rebuilt from source at boot; a persisted
		// copy would shadow them.
		return errors.New(errors.KindConfig, "code-defined skill must not be persisted", nil).
			WithContext("skill", rec.Name).
			WithRecoverable(false)
	}
	at := rec.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, name, owner, version, mode, source, diagram_json, mapping_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner = excluded.owner,
			version = excluded.version,
			mode = excluded.mode,
			source = excluded.source,
			diagram_json = excluded.diagram_json,
			mapping_json = excluded.mapping_json,
			updated_at = excluded.updated_at`, skillsTable)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Owner, rec.Version, rec.Mode, string(rec.Source),
		rec.Diagram, rec.Mapping, at.UnixMilli())
	if err != nil {
		return errors.New(errors.KindInternal, "save skill record", err).
			WithContext("skill", rec.Name)
	}
	return nil
}

// Load returns every persisted record. Rows claiming a code source violate
// the persistence rule and are dropped with a warning.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, name, owner, version, mode, source,
		diagram_json, mapping_json, updated_at FROM %s ORDER BY name ASC`, skillsTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "load skill records", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var source string
		var at int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Owner, &rec.Version, &rec.Mode,
			&source, &rec.Diagram, &rec.Mapping, &at); err != nil {
			return nil, errors.New(errors.KindInternal, "scan skill record", err)
		}
		rec.Source = Source(source)
		rec.UpdatedAt = time.UnixMilli(at)
		if rec.Source == SourceCode {
			s.log.Warn("catalog.store.reject_code_row", "skill", rec.Name, "id", rec.ID)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes a record by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, skillsTable)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return errors.New(errors.KindInternal, "delete skill record", err).
			WithContext("id", id)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
