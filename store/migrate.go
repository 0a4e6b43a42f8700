/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"fmt"
	"strconv"
)

const (
	metaTable = `_meta`

	schemaVersionKey = `schema_version`
)

// Migration is a single ordered schema step. Steps are numbered by their
// position in the service's migration list, starting at 1.
type Migration struct {
	Name string
	SQL  string
}

// SchemaVersion reads the last applied migration ordinal, zero means a
// fresh database.
func (db *DB) SchemaVersion() (v int, err error) {
	if db == nil || db.DB == nil {
		err = ErrNotOpen
		return
	}
	if err = db.ensureMeta(); err != nil {
		return
	}
	var raw string
	if err = db.Get(&raw, `SELECT value FROM `+metaTable+` WHERE key = ?`, schemaVersionKey); err != nil {
		return
	}
	v, err = strconv.Atoi(raw)
	return
}

// Migrate applies every migration whose ordinal exceeds the stored schema
// version, in order, each inside its own transaction. It returns the number
// of migrations applied, rerunning with an unchanged list applies nothing.
func (db *DB) Migrate(migs []Migration) (applied int, err error) {
	if db == nil || db.DB == nil {
		err = ErrNotOpen
		return
	}
	var current int
	if current, err = db.SchemaVersion(); err != nil {
		return
	}
	for i, m := range migs {
		ord := i + 1
		if ord <= current {
			continue
		}
		tx, terr := db.Beginx()
		if terr != nil {
			err = terr
			return
		}
		if _, err = tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			err = fmt.Errorf("migration %d (%s) failed: %w", ord, m.Name, err)
			return
		}
		if _, err = tx.Exec(`UPDATE `+metaTable+` SET value = ? WHERE key = ?`,
			strconv.Itoa(ord), schemaVersionKey); err != nil {
			tx.Rollback()
			err = fmt.Errorf("migration %d (%s) version update failed: %w", ord, m.Name, err)
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("migration %d (%s) commit failed: %w", ord, m.Name, err)
			return
		}
		applied++
	}
	return
}

func (db *DB) ensureMeta() (err error) {
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return
	}
	_, err = db.Exec(`INSERT OR IGNORE INTO `+metaTable+` (key, value) VALUES (?, ?)`,
		schemaVersionKey, `0`)
	return
}
