// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the Config/Store repository and controller layer
// (spec §4.9, §6): one typed repository per entity kind, backed by a
// real relational engine (modernc.org/sqlite through database/sql),
// plus the generic list/get/set/delete/set-list controller contract
// every config kind shares.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"landscape.router/core/internal/errors"
)

// Entity is anything a Repository can persist: stably identified,
// JSON-serializable.
type Entity interface {
	EntityID() string
}

// DB wraps the shared *sql.DB every Repository issues statements
// against; one process, one sqlite file, one-table-per-entity-kind.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if absent) the sqlite database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "open sqlite database %s", path)
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// Repository is a generic typed store for one entity kind, persisted
// as (id TEXT PRIMARY KEY, data TEXT) — a JSON-blob column rather than
// a fully normalized per-field schema, the simplest relational
// equivalent of the teacher's single-document HCL config that still
// satisfies spec §6's "typed repositories, relational tables, one per
// entity" (see DESIGN.md for the normalization tradeoff).
type Repository[T Entity] struct {
	db    *DB
	table string
}

// NewRepository opens (creating if absent) the table backing one
// entity kind.
func NewRepository[T Entity](db *DB, table string) (*Repository[T], error) {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, data TEXT NOT NULL)`, table)
	if _, err := db.sql.Exec(stmt); err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "create table %s", table)
	}
	return &Repository[T]{db: db, table: table}, nil
}

// List returns every entity in the repository.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	rows, err := r.db.sql.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %q ORDER BY id`, r.table))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindRepository, "list %s", r.table)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, errors.Wrapf(err, errors.KindRepository, "scan %s", r.table)
		}
		var v T
		if err := json.Unmarshal([]byte(blob), &v); err != nil {
			return nil, errors.Wrapf(err, errors.KindRepository, "decode %s", r.table)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Get fetches one entity by id.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	var blob string
	row := r.db.sql.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %q WHERE id = ?`, r.table), id)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return zero, false, nil
		}
		return zero, false, errors.Wrapf(err, errors.KindRepository, "get %s/%s", r.table, id)
	}
	var v T
	if err := json.Unmarshal([]byte(blob), &v); err != nil {
		return zero, false, errors.Wrapf(err, errors.KindRepository, "decode %s/%s", r.table, id)
	}
	return v, true, nil
}

// Set inserts or updates v (insert-or-update, §4.9).
func (r *Repository[T]) Set(ctx context.Context, v T) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, errors.KindRepository, "encode %s/%s", r.table, v.EntityID())
	}
	_, err = r.db.sql.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`, r.table),
		v.EntityID(), string(blob))
	if err != nil {
		return errors.Wrapf(err, errors.KindRepository, "set %s/%s", r.table, v.EntityID())
	}
	return nil
}

// Delete removes an entity by id. Deleting an absent id is a no-op.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if _, err := r.db.sql.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, r.table), id); err != nil {
		return errors.Wrapf(err, errors.KindRepository, "delete %s/%s", r.table, id)
	}
	return nil
}


