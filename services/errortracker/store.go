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
	"encoding/json"
	"time"

	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/store"
)

const (
	// occurrence ring size per group
	maxOccurrences = 5

	timeLayout = `2006-01-02T15:04:05Z`
)

// Ingest outcomes. Created and reopened both answer 201; incremented 200.
const (
	StatusCreated     = `created`
	StatusIncremented = `incremented`
	StatusReopened    = `reopened`
)

var migrations = []store.Migration{
	{
		Name: `create error group and occurrence tables`,
		SQL: `
CREATE TABLE error_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	project TEXT NOT NULL,
	environment TEXT NOT NULL DEFAULT 'prod',
	exception_type TEXT NOT NULL,
	message TEXT NOT NULL,
	traceback TEXT NOT NULL DEFAULT '',
	count INTEGER NOT NULL DEFAULT 1,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT
);
CREATE TABLE error_occurrences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_id INTEGER NOT NULL REFERENCES error_groups(id) ON DELETE CASCADE,
	timestamp TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	request_url TEXT,
	request_method TEXT,
	request_headers TEXT,
	user_id TEXT,
	extra TEXT
);
CREATE INDEX idx_groups_fingerprint ON error_groups(fingerprint);
CREATE INDEX idx_groups_resolved_seen ON error_groups(resolved, last_seen DESC);
CREATE INDEX idx_groups_project ON error_groups(project, environment);
CREATE INDEX idx_occurrences_group ON error_occurrences(error_id, timestamp, id);
`,
	},
	{
		Name: `index resolved_at for retention sweeps`,
		SQL:  `CREATE INDEX idx_groups_resolved_at ON error_groups(resolved_at) WHERE resolved_at IS NOT NULL;`,
	},
}

type ErrorGroup struct {
	ID            int64   `json:"id" db:"id"`
	Fingerprint   string  `json:"fingerprint" db:"fingerprint"`
	Project       string  `json:"project" db:"project"`
	Environment   string  `json:"environment" db:"environment"`
	ExceptionType string  `json:"exception_type" db:"exception_type"`
	Message       string  `json:"message" db:"message"`
	Traceback     string  `json:"traceback" db:"traceback"`
	Count         int64   `json:"count" db:"count"`
	FirstSeen     string  `json:"first_seen" db:"first_seen"`
	LastSeen      string  `json:"last_seen" db:"last_seen"`
	Resolved      bool    `json:"resolved" db:"resolved"`
	ResolvedAt    *string `json:"resolved_at" db:"resolved_at"`
}

type Occurrence struct {
	ID             int64            `json:"id" db:"id"`
	ErrorID        int64            `json:"error_id" db:"error_id"`
	Timestamp      string           `json:"timestamp" db:"timestamp"`
	Message        string           `json:"message" db:"message"`
	RequestURL     *string          `json:"request_url,omitempty" db:"request_url"`
	RequestMethod  *string          `json:"request_method,omitempty" db:"request_method"`
	RequestHeaders *json.RawMessage `json:"request_headers,omitempty" db:"request_headers"`
	UserID         *string          `json:"user_id,omitempty" db:"user_id"`
	Extra          *json.RawMessage `json:"extra,omitempty" db:"extra"`
}

type IngestOutcome struct {
	ID          int64
	Status      string
	Fingerprint string
	Count       int64
}

type ListFilters struct {
	Project     string
	Environment string
	Resolved    bool
	Source      string
	SessionID   string
	Limit       int
	Offset      int
}

type errorStore struct {
	db *store.DB
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// IngestReport runs the dedup upsert in one transaction: increment a live
// group, reopen a resolved one, or create a fresh one; always append an
// occurrence and trim the ring back to the newest five.
func (s *errorStore) IngestReport(rep *dedup.Report, now time.Time) (out IngestOutcome, err error) {
	out.Fingerprint = rep.Fingerprint()
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

	var cur struct {
		ID       int64 `db:"id"`
		Count    int64 `db:"count"`
		Resolved bool  `db:"resolved"`
	}
	// fingerprint is not unique: a resolved group and a live one can
	// coexist, and the live one wins the lookup
	err = tx.Get(&cur, `SELECT id, count, resolved FROM error_groups WHERE fingerprint = ?
		ORDER BY resolved ASC, last_seen DESC, id DESC LIMIT 1`, out.Fingerprint)
	switch {
	case err == sql.ErrNoRows:
		var res sql.Result
		res, err = tx.Exec(`INSERT INTO error_groups
			(fingerprint, project, environment, exception_type, message, traceback, count, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			out.Fingerprint, rep.Project, rep.Environment, rep.ExceptionType, rep.Message, rep.Traceback, ts, ts)
		if err != nil {
			return
		}
		if out.ID, err = res.LastInsertId(); err != nil {
			return
		}
		out.Status = StatusCreated
		out.Count = 1
	case err != nil:
		return
	case cur.Resolved:
		out.ID, out.Count, out.Status = cur.ID, cur.Count+1, StatusReopened
		_, err = tx.Exec(`UPDATE error_groups
			SET count = count + 1, last_seen = ?, message = ?, traceback = ?, resolved = 0, resolved_at = NULL
			WHERE id = ?`, ts, rep.Message, rep.Traceback, cur.ID)
	default:
		out.ID, out.Count, out.Status = cur.ID, cur.Count+1, StatusIncremented
		_, err = tx.Exec(`UPDATE error_groups
			SET count = count + 1, last_seen = ?, message = ?, traceback = ?
			WHERE id = ?`, ts, rep.Message, rep.Traceback, cur.ID)
	}
	if err != nil {
		return
	}

	_, err = tx.Exec(`INSERT INTO error_occurrences
		(error_id, timestamp, message, request_url, request_method, request_headers, user_id, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, ts, rep.Message,
		nullString(rep.RequestURL), nullString(rep.RequestMethod), nullRaw(rep.RequestHeaders),
		nullString(rep.UserID), nullRaw(rep.Extra))
	if err != nil {
		return
	}
	if out.Count > maxOccurrences {
		// drop everything but the newest five; the evicted rows are the
		// oldest by (timestamp, id)
		_, err = tx.Exec(`DELETE FROM error_occurrences WHERE error_id = ? AND id NOT IN
			(SELECT id FROM error_occurrences WHERE error_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?)`,
			out.ID, out.ID, maxOccurrences)
		if err != nil {
			return
		}
	}
	err = tx.Commit()
	return
}

func (s *errorStore) List(f ListFilters) (groups []ErrorGroup, total int64, err error) {
	where := ` WHERE resolved = ?`
	args := []interface{}{f.Resolved}
	if f.Project != `` {
		where += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.Environment != `` {
		where += ` AND environment = ?`
		args = append(args, f.Environment)
	}
	switch f.Source {
	case `browser`:
		where += ` AND EXISTS (SELECT 1 FROM error_occurrences o WHERE o.error_id = error_groups.id AND o.request_method = 'BROWSER')`
	case `server`:
		where += ` AND NOT EXISTS (SELECT 1 FROM error_occurrences o WHERE o.error_id = error_groups.id AND o.request_method = 'BROWSER')`
	}
	if f.SessionID != `` {
		where += ` AND EXISTS (SELECT 1 FROM error_occurrences o WHERE o.error_id = error_groups.id AND json_extract(o.extra, '$.session_id') = ?)`
		args = append(args, f.SessionID)
	}
	if err = s.db.Get(&total, `SELECT COUNT(*) FROM error_groups`+where, args...); err != nil {
		return
	}
	groups = []ErrorGroup{}
	err = s.db.Select(&groups, `SELECT * FROM error_groups`+where+` ORDER BY last_seen DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	return
}

func (s *errorStore) Detail(id int64) (g ErrorGroup, occ []Occurrence, err error) {
	if err = s.db.Get(&g, `SELECT * FROM error_groups WHERE id = ?`, id); err != nil {
		return
	}
	occ = []Occurrence{}
	err = s.db.Select(&occ, `SELECT * FROM error_occurrences WHERE error_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		id, maxOccurrences)
	return
}

// Resolve marks a group resolved. Calling it again is a no-op that keeps
// the original resolved_at.
func (s *errorStore) Resolve(id int64, now time.Time) (g ErrorGroup, err error) {
	if _, err = s.db.Exec(`UPDATE error_groups SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`,
		formatTime(now), id); err != nil {
		return
	}
	err = s.db.Get(&g, `SELECT * FROM error_groups WHERE id = ?`, id)
	return
}

func (s *errorStore) Projects() (names []string, err error) {
	names = []string{}
	err = s.db.Select(&names, `SELECT DISTINCT project FROM error_groups ORDER BY project ASC`)
	return
}

// PurgeResolved deletes groups resolved before the cutoff; occurrences go
// with them via the cascade. Unresolved groups are never aged out.
func (s *errorStore) PurgeResolved(cutoff time.Time) (purged int64, err error) {
	res, err := s.db.Exec(`DELETE FROM error_groups WHERE resolved = 1 AND resolved_at IS NOT NULL AND resolved_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return
	}
	return res.RowsAffected()
}

func (s *errorStore) healthExtra() map[string]interface{} {
	var groups, unresolved, occurrences int64
	if err := s.db.Get(&groups, `SELECT COUNT(*) FROM error_groups`); err != nil {
		return nil
	}
	if err := s.db.Get(&unresolved, `SELECT COUNT(*) FROM error_groups WHERE resolved = 0`); err != nil {
		return nil
	}
	if err := s.db.Get(&occurrences, `SELECT COUNT(*) FROM error_occurrences`); err != nil {
		return nil
	}
	return map[string]interface{}{
		`groups`:      groups,
		`unresolved`:  unresolved,
		`occurrences`: occurrences,
	}
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func nullString(s string) interface{} {
	if s == `` {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
