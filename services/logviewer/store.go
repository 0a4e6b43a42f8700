/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/monlight/monlight/store"
	"github.com/monlight/monlight/tailer"
)

const timeLayout = `2006-01-02T15:04:05Z`

// the FTS index is external-content over log_entries, the triggers keep the
// two in lockstep on every insert and delete
var migrations = []store.Migration{
	{
		Name: `create log entry, fts, and cursor tables`,
		SQL: `
CREATE TABLE log_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	container TEXT NOT NULL,
	stream TEXT NOT NULL DEFAULT 'stdout',
	level TEXT NOT NULL DEFAULT 'INFO',
	message TEXT NOT NULL,
	raw BLOB
);
CREATE INDEX idx_entries_time ON log_entries(timestamp DESC);
CREATE INDEX idx_entries_container ON log_entries(container, timestamp DESC);
CREATE VIRTUAL TABLE log_fts USING fts5(message, content='log_entries', content_rowid='id');
CREATE TRIGGER log_entries_ai AFTER INSERT ON log_entries BEGIN
	INSERT INTO log_fts(rowid, message) VALUES (new.id, new.message);
END;
CREATE TRIGGER log_entries_ad AFTER DELETE ON log_entries BEGIN
	INSERT INTO log_fts(log_fts, rowid, message) VALUES ('delete', old.id, old.message);
END;
CREATE TABLE log_cursors (
	container TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	offset INTEGER NOT NULL DEFAULT 0,
	inode INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
`,
	},
}

type LogEntry struct {
	ID        int64  `json:"id" db:"id"`
	Timestamp string `json:"timestamp" db:"timestamp"`
	Container string `json:"container" db:"container"`
	Stream    string `json:"stream" db:"stream"`
	Level     string `json:"level" db:"level"`
	Message   string `json:"message" db:"message"`
	Raw       []byte `json:"raw" db:"raw"`
}

type QueryFilters struct {
	Container string
	Level     string
	Search    string
	Since     string
	Until     string
	Limit     int
	Offset    int
}

type ContainerCount struct {
	Name  string `json:"name" db:"container"`
	Count int64  `json:"count" db:"count"`
}

type LogStats struct {
	Total        int64            `json:"total"`
	Oldest       *string          `json:"oldest"`
	Newest       *string          `json:"newest"`
	ByLevel      map[string]int64 `json:"by_level"`
	ByContainer  map[string]int64 `json:"by_container"`
	WatchedCount int              `json:"watched_containers"`
}

type logStore struct {
	db *store.DB
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// InsertBatch writes one poll batch and its advanced cursor in a single
// transaction so a crash cannot persist the cursor ahead of the entries.
func (s *logStore) InsertBatch(entries []LogEntry, cur tailer.Cursor, now time.Time) (err error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for i := range entries {
		if _, err = tx.Exec(`INSERT INTO log_entries (timestamp, container, stream, level, message, raw)
			VALUES (?, ?, ?, ?, ?, NULL)`,
			entries[i].Timestamp, entries[i].Container, entries[i].Stream,
			entries[i].Level, entries[i].Message); err != nil {
			return
		}
	}
	if _, err = tx.Exec(`INSERT INTO log_cursors (container, path, offset, inode, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(container) DO UPDATE SET path = excluded.path, offset = excluded.offset,
			inode = excluded.inode, updated_at = excluded.updated_at`,
		cur.Container, cur.Path, cur.Offset, cur.Inode, formatTime(now)); err != nil {
		return
	}
	return tx.Commit()
}

func (s *logStore) LoadCursors() (map[string]tailer.Cursor, error) {
	var rows []struct {
		Container string `db:"container"`
		Path      string `db:"path"`
		Offset    int64  `db:"offset"`
		Inode     uint64 `db:"inode"`
	}
	if err := s.db.Select(&rows, `SELECT container, path, offset, inode FROM log_cursors`); err != nil {
		return nil, err
	}
	out := make(map[string]tailer.Cursor, len(rows))
	for _, r := range rows {
		out[r.Container] = tailer.Cursor{
			Container: r.Container,
			Path:      r.Path,
			Offset:    r.Offset,
			Inode:     r.Inode,
		}
	}
	return out, nil
}

// Prune enforces the entry cap by deleting the lowest ids. The FTS delete
// trigger keeps the index in step.
func (s *logStore) Prune(maxEntries int64) (pruned int64, err error) {
	var count int64
	if err = s.db.Get(&count, `SELECT COUNT(*) FROM log_entries`); err != nil {
		return
	}
	if count <= maxEntries {
		return
	}
	res, err := s.db.Exec(`DELETE FROM log_entries WHERE id IN
		(SELECT id FROM log_entries ORDER BY id ASC LIMIT ?)`, count-maxEntries)
	if err != nil {
		return
	}
	return res.RowsAffected()
}

func buildQuery(f QueryFilters) (where string, args []interface{}) {
	where = ` WHERE 1=1`
	if f.Container != `` {
		where += ` AND container = ?`
		args = append(args, f.Container)
	}
	if f.Level != `` {
		where += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Search != `` {
		where += ` AND id IN (SELECT rowid FROM log_fts WHERE log_fts MATCH ?)`
		args = append(args, f.Search)
	}
	if f.Since != `` {
		where += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if f.Until != `` {
		where += ` AND timestamp <= ?`
		args = append(args, f.Until)
	}
	return
}

// isFTSError reports whether err came out of the fts5 MATCH parser rather
// than the database itself; a bad search expression is a client error. The
// parser does not tag all of its errors, so the quote and column messages
// are matched too (an unknown column can only come from a "name:term"
// search, the schema itself is fixed).
func isFTSError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, `fts5`) ||
		strings.Contains(s, `unterminated string`) ||
		strings.Contains(s, `no such column`)
}

func (s *logStore) Query(f QueryFilters) (entries []LogEntry, total int64, err error) {
	where, args := buildQuery(f)
	if err = s.db.Get(&total, `SELECT COUNT(*) FROM log_entries`+where, args...); err != nil {
		return
	}
	entries = []LogEntry{}
	err = s.db.Select(&entries, `SELECT * FROM log_entries`+where+` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	return
}

func (s *logStore) Containers() (out []ContainerCount, err error) {
	out = []ContainerCount{}
	err = s.db.Select(&out, `SELECT container, COUNT(*) AS count FROM log_entries GROUP BY container ORDER BY container ASC`)
	return
}

func (s *logStore) Stats() (st LogStats, err error) {
	st.ByLevel = map[string]int64{}
	st.ByContainer = map[string]int64{}
	if err = s.db.Get(&st.Total, `SELECT COUNT(*) FROM log_entries`); err != nil {
		return
	}
	if st.Total > 0 {
		var bounds struct {
			Oldest string `db:"oldest"`
			Newest string `db:"newest"`
		}
		if err = s.db.Get(&bounds, `SELECT MIN(timestamp) AS oldest, MAX(timestamp) AS newest FROM log_entries`); err != nil {
			return
		}
		st.Oldest, st.Newest = &bounds.Oldest, &bounds.Newest
	}
	var rows []struct {
		Key   string `db:"key"`
		Count int64  `db:"count"`
	}
	if err = s.db.Select(&rows, `SELECT level AS key, COUNT(*) AS count FROM log_entries GROUP BY level`); err != nil {
		return
	}
	for _, r := range rows {
		st.ByLevel[r.Key] = r.Count
	}
	rows = rows[:0]
	if err = s.db.Select(&rows, `SELECT container AS key, COUNT(*) AS count FROM log_entries GROUP BY container`); err != nil {
		return
	}
	for _, r := range rows {
		st.ByContainer[r.Key] = r.Count
	}
	return
}

// MaxEntryID establishes the SSE cursor at connect time.
func maxEntryID(q sqlx.Queryer) (id int64, err error) {
	err = sqlx.Get(q, &id, `SELECT COALESCE(MAX(id), 0) FROM log_entries`)
	return
}

// entriesAfter feeds the live tail: entries with id beyond the cursor,
// oldest first, optionally narrowed to one container or level.
func entriesAfter(q sqlx.Queryer, cursor int64, container, level string, limit int) (entries []LogEntry, err error) {
	qry := `SELECT * FROM log_entries WHERE id > ?`
	args := []interface{}{cursor}
	if container != `` {
		qry += ` AND container = ?`
		args = append(args, container)
	}
	if level != `` {
		qry += ` AND level = ?`
		args = append(args, level)
	}
	qry += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	entries = []LogEntry{}
	err = sqlx.Select(q, &entries, qry, args...)
	return
}

func (s *logStore) healthExtra() map[string]interface{} {
	var entries int64
	if err := s.db.Get(&entries, `SELECT COUNT(*) FROM log_entries`); err != nil {
		return nil
	}
	return map[string]interface{}{
		`entries`:    entries,
		`active_sse`: activeTails.Load(),
	}
}
