/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeoutMillis = 5000
)

var (
	ErrAlreadyLocked = errors.New("database is locked by another process")
	ErrNotOpen       = errors.New("store is not open")
)

// DB wraps the sqlite handle with the process lockfile that guards it.
// Each service owns exactly one database file, a second instance pointed at
// the same data directory must fail fast rather than interleave writes.
type DB struct {
	*sqlx.DB
	path string
	lk   *flock.Flock
}

// Open opens (creating if needed) the sqlite database at path with WAL
// journaling, foreign keys, and a busy timeout. The parent directory is
// created when missing. A <path>.lock flock is acquired first, if another
// process holds it Open fails with ErrAlreadyLocked.
func Open(path string) (db *DB, err error) {
	if path == `` {
		return nil, errors.New("empty database path")
	}
	if err = os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return
	}
	lk := flock.New(path + `.lock`)
	var ok bool
	if ok, err = lk.TryLock(); err != nil {
		return
	} else if !ok {
		err = ErrAlreadyLocked
		return
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, busyTimeoutMillis)
	var xdb *sqlx.DB
	if xdb, err = sqlx.Open(`sqlite3`, dsn); err != nil {
		lk.Unlock()
		return
	}
	// one connection serializes writers, WAL keeps the file consistent if a
	// reader sneaks in through a second handle
	xdb.SetMaxOpenConns(1)
	if err = xdb.Ping(); err != nil {
		xdb.Close()
		lk.Unlock()
		return
	}
	db = &DB{
		DB:   xdb,
		path: path,
		lk:   lk,
	}
	return
}

// Path hands back the filesystem path of the database file.
func (db *DB) Path() string {
	if db == nil {
		return ``
	}
	return db.path
}

// Reader opens a second pool onto the same database for read paths that must
// not queue behind the single writer connection, streaming tails mostly. WAL
// lets these readers run while a write transaction is open. Callers issue
// SELECTs only and close the pool when done.
func (db *DB) Reader(maxConns int) (*sqlx.DB, error) {
	if db == nil || db.DB == nil {
		return nil, ErrNotOpen
	}
	if maxConns < 1 {
		maxConns = 1
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		db.path, busyTimeoutMillis)
	rdb, err := sqlx.Open(`sqlite3`, dsn)
	if err != nil {
		return nil, err
	}
	rdb.SetMaxOpenConns(maxConns)
	if err = rdb.Ping(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Close closes the database and releases the process lock.
func (db *DB) Close() (err error) {
	if db == nil || db.DB == nil {
		return ErrNotOpen
	}
	err = db.DB.Close()
	if db.lk != nil {
		if lerr := db.lk.Unlock(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return
}
