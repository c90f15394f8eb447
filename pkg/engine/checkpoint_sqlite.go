// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecanlabs/weave/pkg/errors"
)

const checkpointTable = "weave_checkpoints"

// SQLiteStore persists checkpoints in a SQLite database so suspended runs
// survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the checkpoint schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.KindConfig, "db is nil", nil)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			breakpoint INTEGER NOT NULL DEFAULT 0,
			suspended_at INTEGER NOT NULL,
			checkpoint_json BLOB NOT NULL
		);`, checkpointTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_skill ON %s(skill_id);`, checkpointTable, checkpointTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_suspended ON %s(suspended_at);`, checkpointTable, checkpointTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.New(errors.KindInternal, "ensure checkpoint schema", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) the database file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.KindConfig, "open checkpoint db", err).
			WithContext("path", path)
	}
	return NewSQLiteStore(db)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return errors.New(errors.KindInternal, "marshal checkpoint", err).
			WithContext("run_id", cp.RunID)
	}
	bp := 0
	if cp.Breakpoint {
		bp = 1
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (run_id, skill_id, node_id, tag, breakpoint, suspended_at, checkpoint_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				skill_id = excluded.skill_id,
				node_id = excluded.node_id,
				tag = excluded.tag,
				breakpoint = excluded.breakpoint,
				suspended_at = excluded.suspended_at,
				checkpoint_json = excluded.checkpoint_json`, checkpointTable),
		cp.RunID, cp.SkillID, cp.NodeID, cp.Tag, bp, cp.SuspendedAt.UTC().UnixMilli(), payload)
	if err != nil {
		return errors.New(errors.KindInternal, "save checkpoint", err).
			WithContext("run_id", cp.RunID)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (Checkpoint, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT checkpoint_json FROM %s WHERE run_id = ?", checkpointTable),
		runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, errors.New(errors.KindInternal, "load checkpoint", err).
			WithContext("run_id", runID)
	}
	var cp Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return Checkpoint{}, false, errors.New(errors.KindInternal, "decode checkpoint", err).
			WithContext("run_id", runID)
	}
	return cp, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE run_id = ?", checkpointTable), runID)
	if err != nil {
		return errors.New(errors.KindInternal, "delete checkpoint", err).
			WithContext("run_id", runID)
	}
	return nil
}

// List returns every persisted checkpoint, oldest suspension first.
func (s *SQLiteStore) List(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT checkpoint_json FROM %s ORDER BY suspended_at ASC", checkpointTable))
	if err != nil {
		return nil, errors.New(errors.KindInternal, "list checkpoints", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.New(errors.KindInternal, "scan checkpoint", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal(payload, &cp); err != nil {
			return nil, errors.New(errors.KindInternal, "decode checkpoint", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.KindInternal, "iterate checkpoints", err)
	}
	return out, nil
}

// Sweep deletes checkpoints suspended longer than maxAge and returns how
// many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE suspended_at < ?", checkpointTable), cutoff)
	if err != nil {
		return 0, errors.New(errors.KindInternal, "sweep checkpoints", err)
	}
	return res.RowsAffected()
}
