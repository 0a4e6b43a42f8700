/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/monlight/monlight/sourcemap"
	"github.com/monlight/monlight/store"
)

const (
	timeLayout = `2006-01-02T15:04:05Z`

	// uploaded map documents are capped before they reach storage
	maxMapContent = 5 * 1024 * 1024
)

var migrations = []store.Migration{
	{
		Name: `create dsn key and source map tables`,
		SQL: `
CREATE TABLE dsn_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	project TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE TABLE source_maps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	release TEXT NOT NULL,
	file_url TEXT NOT NULL,
	content TEXT NOT NULL,
	uploaded_at TEXT NOT NULL,
	UNIQUE(project, release, file_url)
);
CREATE INDEX idx_keys_project ON dsn_keys(project, active);
`,
	},
	{
		Name: `index uploaded_at for retention sweeps`,
		SQL:  `CREATE INDEX idx_maps_uploaded ON source_maps(uploaded_at);`,
	},
}

type DSNKey struct {
	ID        int64  `json:"id" db:"id"`
	Key       string `json:"key" db:"key"`
	Project   string `json:"project" db:"project"`
	Active    bool   `json:"active" db:"active"`
	CreatedAt string `json:"created_at" db:"created_at"`
}

// SourceMapMeta describes a stored map without dragging its content (maps
// run to megabytes) through list responses.
type SourceMapMeta struct {
	ID         int64  `json:"id" db:"id"`
	Project    string `json:"project" db:"project"`
	Release    string `json:"release" db:"release"`
	FileURL    string `json:"file_url" db:"file_url"`
	Size       int64  `json:"size" db:"size"`
	UploadedAt string `json:"uploaded_at" db:"uploaded_at"`
}

type relayStore struct {
	db *store.DB
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// mintKey produces a fresh 32-character lowercase hex DSN key.
func mintKey() string {
	return strings.ReplaceAll(uuid.New().String(), `-`, ``)
}

// CreateKey mints and stores a new active DSN key for project.
func (s *relayStore) CreateKey(project string, now time.Time) (k DSNKey, err error) {
	k = DSNKey{
		Key:       mintKey(),
		Project:   project,
		Active:    true,
		CreatedAt: formatTime(now),
	}
	res, err := s.db.Exec(`INSERT INTO dsn_keys (key, project, active, created_at) VALUES (?, ?, 1, ?)`,
		k.Key, k.Project, k.CreatedAt)
	if err != nil {
		return
	}
	k.ID, err = res.LastInsertId()
	return
}

// ListKeys returns every key, newest first. Deactivated keys stay visible
// so operators can audit what a leaked key used to grant.
func (s *relayStore) ListKeys() (keys []DSNKey, err error) {
	keys = []DSNKey{}
	err = s.db.Select(&keys, `
SELECT id, key, project, active, created_at
FROM dsn_keys
ORDER BY created_at DESC, id DESC`)
	return
}

// DeactivateKey soft-deletes a key. The row survives, it just stops
// authorizing browser submissions.
func (s *relayStore) DeactivateKey(id int64) (k DSNKey, err error) {
	res, err := s.db.Exec(`UPDATE dsn_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = sql.ErrNoRows
		return
	}
	err = s.db.Get(&k, `SELECT id, key, project, active, created_at FROM dsn_keys WHERE id = ?`, id)
	return
}

// LookupActiveKey resolves a presented DSN key to its project. A miss or an
// inactive key returns an empty project and no error.
func (s *relayStore) LookupActiveKey(key string) (project string, err error) {
	err = s.db.Get(&project, `SELECT project FROM dsn_keys WHERE key = ? AND active = 1`, key)
	if isNoRows(err) {
		err = nil
	}
	return
}

// UpsertMap stores a source map document, replacing any previous upload for
// the same (project, release, fileURL) triple. created reports whether a new
// row was inserted rather than an existing one replaced.
func (s *relayStore) UpsertMap(project, release, fileURL string, content []byte, now time.Time) (meta SourceMapMeta, created bool, err error) {
	ts := formatTime(now)
	tx, err := s.db.Beginx()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	var id int64
	err = tx.Get(&id, `SELECT id FROM source_maps WHERE project = ? AND release = ? AND file_url = ?`,
		project, release, fileURL)
	switch {
	case isNoRows(err):
		var res sql.Result
		if res, err = tx.Exec(`
INSERT INTO source_maps (project, release, file_url, content, uploaded_at)
VALUES (?, ?, ?, ?, ?)`, project, release, fileURL, string(content), ts); err != nil {
			return
		}
		if id, err = res.LastInsertId(); err != nil {
			return
		}
		created = true
	case err != nil:
		return
	default:
		if _, err = tx.Exec(`UPDATE source_maps SET content = ?, uploaded_at = ? WHERE id = ?`,
			string(content), ts, id); err != nil {
			return
		}
	}
	if err = tx.Commit(); err != nil {
		return
	}
	meta = SourceMapMeta{
		ID:         id,
		Project:    project,
		Release:    release,
		FileURL:    fileURL,
		Size:       int64(len(content)),
		UploadedAt: ts,
	}
	return
}

// ListMaps returns stored map metadata, newest upload first.
func (s *relayStore) ListMaps() (maps []SourceMapMeta, err error) {
	maps = []SourceMapMeta{}
	err = s.db.Select(&maps, `
SELECT id, project, release, file_url, length(content) AS size, uploaded_at
FROM source_maps
ORDER BY uploaded_at DESC, id DESC`)
	return
}

func (s *relayStore) DeleteMap(id int64) error {
	res, err := s.db.Exec(`DELETE FROM source_maps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeMaps drops maps uploaded before cutoff. Old releases stop being
// deployed, their maps just rot in the table otherwise.
func (s *relayStore) PurgeMaps(cutoff time.Time) (removed int64, err error) {
	res, err := s.db.Exec(`DELETE FROM source_maps WHERE uploaded_at < ?`, formatTime(cutoff))
	if err != nil {
		return
	}
	removed, err = res.RowsAffected()
	return
}

// MapLookup fetches and decodes the stored map for a generated file. A miss
// returns (nil, nil) so the stack rewriter treats it as "no map" rather than
// a failure. Satisfies sourcemap.MapLookup.
func (s *relayStore) MapLookup(project, release, fileURL string) (*sourcemap.Map, error) {
	var content string
	err := s.db.Get(&content, `
SELECT content FROM source_maps WHERE project = ? AND release = ? AND file_url = ?`,
		project, release, fileURL)
	if isNoRows(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return sourcemap.Parse([]byte(content))
}

func (s *relayStore) counts() (keys, maps int64) {
	s.db.Get(&keys, `SELECT COUNT(*) FROM dsn_keys WHERE active = 1`)
	s.db.Get(&maps, `SELECT COUNT(*) FROM source_maps`)
	return
}
