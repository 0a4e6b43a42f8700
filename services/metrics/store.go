/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"time"

	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/store"
)

const timeLayout = `2006-01-02T15:04:05Z`

var migrations = []store.Migration{
	{
		Name: `create raw and aggregated metric tables`,
		SQL: `
CREATE TABLE metrics_raw (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	value REAL NOT NULL,
	labels TEXT
);
CREATE INDEX idx_raw_time ON metrics_raw(timestamp);
CREATE INDEX idx_raw_name_time ON metrics_raw(name, timestamp);
CREATE TABLE metrics_agg (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket TEXT NOT NULL,
	resolution TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	labels TEXT,
	count INTEGER NOT NULL,
	sum REAL NOT NULL,
	min REAL NOT NULL,
	max REAL NOT NULL,
	avg REAL NOT NULL,
	p50 REAL,
	p95 REAL,
	p99 REAL
);
CREATE INDEX idx_agg_lookup ON metrics_agg(resolution, name, bucket);
CREATE INDEX idx_agg_bucket ON metrics_agg(resolution, bucket);
`,
	},
}

// AggRow is one aggregated bucket as served by the query endpoint.
// Percentiles stay null for counter and gauge aggregates.
type AggRow struct {
	ID         int64    `json:"-" db:"id"`
	Bucket     string   `json:"bucket" db:"bucket"`
	Resolution string   `json:"resolution" db:"resolution"`
	Name       string   `json:"name" db:"name"`
	Type       string   `json:"type" db:"type"`
	Labels     *string  `json:"labels" db:"labels"`
	Count      int64    `json:"count" db:"count"`
	Sum        float64  `json:"sum" db:"sum"`
	Min        float64  `json:"min" db:"min"`
	Max        float64  `json:"max" db:"max"`
	Avg        float64  `json:"avg" db:"avg"`
	P50        *float64 `json:"p50" db:"p50"`
	P95        *float64 `json:"p95" db:"p95"`
	P99        *float64 `json:"p99" db:"p99"`
}

type metricStore struct {
	db *store.DB
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

// InsertPoints lands a validated batch of raw points in one transaction.
// Labels are stored in canonical form, absent timestamps take the server
// clock.
func (s *metricStore) InsertPoints(points []rollup.Point, now time.Time) (err error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	stmt, err := tx.Prepare(`INSERT INTO metrics_raw (timestamp, name, type, value, labels) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return
	}
	defer stmt.Close()
	for i := range points {
		p := &points[i]
		ts := now
		if t, ok := rollup.ParseTimestamp(p.Timestamp); ok {
			ts = t
		}
		var labels interface{}
		canon, cerr := rollup.CanonicalLabels(p.Labels)
		if cerr != nil {
			err = cerr
			return
		}
		if canon != nil {
			labels = *canon
		}
		if _, err = stmt.Exec(formatTime(ts), p.Name, p.Type, p.Value, labels); err != nil {
			return
		}
	}
	return tx.Commit()
}

type rawGroup struct {
	name   string
	typ    string
	labels *string
	values []float64
}

// groupKey separates label-less groups from empty-object labels.
func groupKey(name, typ string, labels *string) string {
	if labels == nil {
		return name + "\x00" + typ + "\x00\x01"
	}
	return name + "\x00" + typ + "\x00" + *labels
}

// rolled reports whether an aggregation pass already produced rows for the
// bucket. Late raw points for a rolled bucket are never re-aggregated.
func (s *metricStore) rolled(resolution string, bucket time.Time) (bool, error) {
	var n int64
	err := s.db.Get(&n, `SELECT COUNT(*) FROM metrics_agg WHERE resolution = ? AND bucket = ?`,
		resolution, formatTime(bucket))
	return n > 0, err
}

// RollupMinute aggregates the raw rows of one completed minute into one row
// per distinct (name, labels, type) group. Percentiles are computed for
// histogram groups only.
func (s *metricStore) RollupMinute(bucket time.Time) (groups int, err error) {
	done, err := s.rolled(rollup.ResolutionMinute, bucket)
	if err != nil || done {
		return
	}
	var rows []struct {
		Name   string  `db:"name"`
		Type   string  `db:"type"`
		Labels *string `db:"labels"`
		Value  float64 `db:"value"`
	}
	if err = s.db.Select(&rows, `SELECT name, type, labels, value FROM metrics_raw
		WHERE timestamp >= ? AND timestamp < ?`,
		formatTime(bucket), formatTime(bucket.Add(time.Minute))); err != nil {
		return
	}
	if len(rows) == 0 {
		return
	}
	grouped := make(map[string]*rawGroup)
	order := make([]string, 0, 16)
	for _, r := range rows {
		k := groupKey(r.Name, r.Type, r.Labels)
		g, ok := grouped[k]
		if !ok {
			g = &rawGroup{name: r.Name, typ: r.Type, labels: r.Labels}
			grouped[k] = g
			order = append(order, k)
		}
		g.values = append(g.values, r.Value)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	bs := formatTime(bucket)
	for _, k := range order {
		g := grouped[k]
		count := len(g.values)
		var sum float64
		mn, mx := g.values[0], g.values[0]
		for _, v := range g.values {
			sum += v
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
		}
		var p50, p95, p99 interface{}
		if g.typ == rollup.TypeHistogram {
			a, b, c := rollup.Percentiles(g.values)
			p50, p95, p99 = a, b, c
		}
		var labels interface{}
		if g.labels != nil {
			labels = *g.labels
		}
		if _, err = tx.Exec(`INSERT INTO metrics_agg
			(bucket, resolution, name, type, labels, count, sum, min, max, avg, p50, p95, p99)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bs, rollup.ResolutionMinute, g.name, g.typ, labels,
			count, sum, mn, mx, sum/float64(count), p50, p95, p99); err != nil {
			return
		}
		groups++
	}
	err = tx.Commit()
	return
}

// RollupHour folds the minute rows of one completed hour into hour rows.
// Sums and counts add up exactly, avg is recomputed from them, and
// percentiles are the arithmetic mean of the minute percentiles, a
// documented approximation.
func (s *metricStore) RollupHour(bucket time.Time) (groups int, err error) {
	done, err := s.rolled(rollup.ResolutionHour, bucket)
	if err != nil || done {
		return
	}
	var rows []AggRow
	if err = s.db.Select(&rows, `SELECT * FROM metrics_agg
		WHERE resolution = ? AND bucket >= ? AND bucket < ? ORDER BY bucket ASC`,
		rollup.ResolutionMinute, formatTime(bucket), formatTime(bucket.Add(time.Hour))); err != nil {
		return
	}
	if len(rows) == 0 {
		return
	}
	type hourGroup struct {
		name, typ string
		labels    *string
		count     int64
		sum       float64
		mn, mx    float64
		p50s      []float64
		p95s      []float64
		p99s      []float64
	}
	grouped := make(map[string]*hourGroup)
	order := make([]string, 0, 16)
	for i := range rows {
		r := &rows[i]
		k := groupKey(r.Name, r.Type, r.Labels)
		g, ok := grouped[k]
		if !ok {
			g = &hourGroup{name: r.Name, typ: r.Type, labels: r.Labels, mn: r.Min, mx: r.Max}
			grouped[k] = g
			order = append(order, k)
		}
		g.count += r.Count
		g.sum += r.Sum
		if r.Min < g.mn {
			g.mn = r.Min
		}
		if r.Max > g.mx {
			g.mx = r.Max
		}
		if r.P50 != nil {
			g.p50s = append(g.p50s, *r.P50)
		}
		if r.P95 != nil {
			g.p95s = append(g.p95s, *r.P95)
		}
		if r.P99 != nil {
			g.p99s = append(g.p99s, *r.P99)
		}
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	bs := formatTime(bucket)
	for _, k := range order {
		g := grouped[k]
		var p50, p95, p99 interface{}
		if len(g.p50s) > 0 {
			p50 = rollup.Mean(g.p50s)
		}
		if len(g.p95s) > 0 {
			p95 = rollup.Mean(g.p95s)
		}
		if len(g.p99s) > 0 {
			p99 = rollup.Mean(g.p99s)
		}
		var labels interface{}
		if g.labels != nil {
			labels = *g.labels
		}
		if _, err = tx.Exec(`INSERT INTO metrics_agg
			(bucket, resolution, name, type, labels, count, sum, min, max, avg, p50, p95, p99)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bs, rollup.ResolutionHour, g.name, g.typ, labels,
			g.count, g.sum, g.mn, g.mx, g.sum/float64(g.count), p50, p95, p99); err != nil {
			return
		}
		groups++
	}
	err = tx.Commit()
	return
}

// Retention applies the three tier cutoffs.
func (s *metricStore) Retention(now time.Time, rawHours, minuteHours, hourlyDays int64) (raw, minute, hour int64, err error) {
	res, err := s.db.Exec(`DELETE FROM metrics_raw WHERE timestamp < ?`,
		formatTime(now.Add(-time.Duration(rawHours)*time.Hour)))
	if err != nil {
		return
	}
	if raw, err = res.RowsAffected(); err != nil {
		return
	}
	res, err = s.db.Exec(`DELETE FROM metrics_agg WHERE resolution = ? AND bucket < ?`,
		rollup.ResolutionMinute, formatTime(now.Add(-time.Duration(minuteHours)*time.Hour)))
	if err != nil {
		return
	}
	if minute, err = res.RowsAffected(); err != nil {
		return
	}
	res, err = s.db.Exec(`DELETE FROM metrics_agg WHERE resolution = ? AND bucket < ?`,
		rollup.ResolutionHour, formatTime(now.Add(-time.Duration(hourlyDays)*24*time.Hour)))
	if err != nil {
		return
	}
	hour, err = res.RowsAffected()
	return
}

// Query returns aggregate rows for one metric over [since, until], bucket
// ascending. A nil labels filter matches every label set.
func (s *metricStore) Query(name, resolution string, labels *string, since, until time.Time) (rows []AggRow, err error) {
	qry := `SELECT * FROM metrics_agg WHERE resolution = ? AND name = ? AND bucket >= ? AND bucket <= ?`
	args := []interface{}{resolution, name, formatTime(since), formatTime(until)}
	if labels != nil {
		qry += ` AND labels = ?`
		args = append(args, *labels)
	}
	qry += ` ORDER BY bucket ASC, labels ASC`
	rows = []AggRow{}
	err = s.db.Select(&rows, qry, args...)
	return
}

// Names lists every metric name currently known across raw and aggregated
// storage.
func (s *metricStore) Names() (names []string, err error) {
	names = []string{}
	err = s.db.Select(&names, `SELECT DISTINCT name FROM metrics_raw
		UNION SELECT DISTINCT name FROM metrics_agg ORDER BY name ASC`)
	return
}

func (s *metricStore) healthExtra() map[string]interface{} {
	var raw, agg int64
	if err := s.db.Get(&raw, `SELECT COUNT(*) FROM metrics_raw`); err != nil {
		return nil
	}
	if err := s.db.Get(&agg, `SELECT COUNT(*) FROM metrics_agg`); err != nil {
		return nil
	}
	return map[string]interface{}{
		`raw_points`: raw,
		`aggregates`: agg,
	}
}
