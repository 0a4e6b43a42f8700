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
)

// Web-Vitals rating thresholds: at or below the first bound is good, at or
// below the second needs improvement, beyond it poor.
var vitalThresholds = map[string][2]float64{
	`lcp`: {2500, 4000},
	`inp`: {200, 500},
	`cls`: {0.1, 0.25},
}

const vitalPrefix = `web_vitals_`

type TopMetric struct {
	Name  string `json:"name" db:"name"`
	Count int64  `json:"count" db:"count"`
}

type VitalSummary struct {
	Avg    float64 `json:"avg"`
	Count  int64   `json:"count"`
	Rating string  `json:"rating"`
}

// VitalBucket is one time-series point; a vital missing from the bucket
// stays null.
type VitalBucket struct {
	Bucket string   `json:"bucket"`
	LCP    *float64 `json:"lcp"`
	INP    *float64 `json:"inp"`
	CLS    *float64 `json:"cls"`
}

type VitalPage struct {
	Page    string   `json:"page"`
	LCP     *float64 `json:"lcp"`
	INP     *float64 `json:"inp"`
	CLS     *float64 `json:"cls"`
	Samples int64    `json:"samples"`
}

type WebVitals struct {
	Summary    map[string]VitalSummary `json:"summary"`
	Resolution string                  `json:"resolution"`
	Series     []VitalBucket           `json:"series"`
	Pages      []VitalPage             `json:"pages"`
}

type Dashboard struct {
	Period          string      `json:"period"`
	Since           string      `json:"since"`
	Until           string      `json:"until"`
	TotalDatapoints int64       `json:"total_datapoints"`
	DistinctNames   int64       `json:"distinct_names"`
	TopMetrics      []TopMetric `json:"top_metrics"`
	WebVitals       *WebVitals  `json:"web_vitals,omitempty"`
}

func rate(metric string, avg float64) string {
	th, ok := vitalThresholds[metric]
	if !ok {
		return ``
	}
	switch {
	case avg <= th[0]:
		return `good`
	case avg <= th[1]:
		return `needs-improvement`
	}
	return `poor`
}

// Dashboard builds the raw-data projection for one period: totals, the top
// ten metrics by raw count, and the Web-Vitals block when any browser
// web_vitals_* point landed in the window.
func (s *metricStore) Dashboard(period string, since, until time.Time) (d Dashboard, err error) {
	lo, hi := formatTime(since), formatTime(until)
	d = Dashboard{Period: period, Since: lo, Until: hi, TopMetrics: []TopMetric{}}
	if err = s.db.Get(&d.TotalDatapoints,
		`SELECT COUNT(*) FROM metrics_raw WHERE timestamp >= ? AND timestamp <= ?`, lo, hi); err != nil {
		return
	}
	if err = s.db.Get(&d.DistinctNames,
		`SELECT COUNT(DISTINCT name) FROM metrics_raw WHERE timestamp >= ? AND timestamp <= ?`, lo, hi); err != nil {
		return
	}
	if err = s.db.Select(&d.TopMetrics, `SELECT name, COUNT(*) AS count FROM metrics_raw
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY name ORDER BY count DESC, name ASC LIMIT 10`, lo, hi); err != nil {
		return
	}
	var vitals int64
	if err = s.db.Get(&vitals, `SELECT COUNT(*) FROM metrics_raw
		WHERE name LIKE ? AND timestamp >= ? AND timestamp <= ?
		AND json_extract(labels, '$.source') = 'browser'`,
		vitalPrefix+`%`, lo, hi); err != nil {
		return
	}
	if vitals == 0 {
		return
	}
	wv := &WebVitals{Summary: map[string]VitalSummary{}, Series: []VitalBucket{}, Pages: []VitalPage{}}
	if err = s.vitalSummary(wv, lo, hi); err != nil {
		return
	}
	// minute buckets for short windows, hour beyond a day
	if until.Sub(since) <= 24*time.Hour {
		wv.Resolution = rollup.ResolutionMinute
	} else {
		wv.Resolution = rollup.ResolutionHour
	}
	if err = s.vitalSeries(wv, lo, hi); err != nil {
		return
	}
	if err = s.vitalPages(wv, lo, hi); err != nil {
		return
	}
	d.WebVitals = wv
	return
}

// vitalWhere narrows raw rows to the three rated vitals submitted by
// browsers within the window. Parameter order: lo, hi.
const vitalWhere = ` FROM metrics_raw
	WHERE name IN ('web_vitals_lcp', 'web_vitals_inp', 'web_vitals_cls')
	AND timestamp >= ? AND timestamp <= ?
	AND json_extract(labels, '$.source') = 'browser'`

func vitalKey(name string) string {
	return name[len(vitalPrefix):]
}

func (s *metricStore) vitalSummary(wv *WebVitals, lo, hi string) error {
	var rows []struct {
		Name  string  `db:"name"`
		Avg   float64 `db:"avg"`
		Count int64   `db:"count"`
	}
	if err := s.db.Select(&rows, `SELECT name, AVG(value) AS avg, COUNT(*) AS count`+vitalWhere+
		` GROUP BY name`, lo, hi); err != nil {
		return err
	}
	for _, r := range rows {
		k := vitalKey(r.Name)
		wv.Summary[k] = VitalSummary{Avg: r.Avg, Count: r.Count, Rating: rate(k, r.Avg)}
	}
	return nil
}

func (s *metricStore) vitalSeries(wv *WebVitals, lo, hi string) error {
	// timestamps are fixed-width ISO-8601, the bucket key is a plain prefix:
	// 16 chars through the minute, 13 through the hour
	keyLen, suffix := 16, `:00Z`
	if wv.Resolution == rollup.ResolutionHour {
		keyLen, suffix = 13, `:00:00Z`
	}
	var rows []struct {
		Bucket string  `db:"bucket"`
		Name   string  `db:"name"`
		Avg    float64 `db:"avg"`
	}
	if err := s.db.Select(&rows, `SELECT substr(timestamp, 1, ?) AS bucket, name, AVG(value) AS avg`+
		vitalWhere+` GROUP BY bucket, name ORDER BY bucket ASC`, keyLen, lo, hi); err != nil {
		return err
	}
	var cur *VitalBucket
	for i := range rows {
		r := &rows[i]
		bs := r.Bucket + suffix
		if cur == nil || cur.Bucket != bs {
			wv.Series = append(wv.Series, VitalBucket{Bucket: bs})
			cur = &wv.Series[len(wv.Series)-1]
		}
		avg := r.Avg
		switch vitalKey(r.Name) {
		case `lcp`:
			cur.LCP = &avg
		case `inp`:
			cur.INP = &avg
		case `cls`:
			cur.CLS = &avg
		}
	}
	return nil
}

func (s *metricStore) vitalPages(wv *WebVitals, lo, hi string) error {
	var rows []struct {
		Page  string  `db:"page"`
		Name  string  `db:"name"`
		Avg   float64 `db:"avg"`
		Count int64   `db:"count"`
	}
	if err := s.db.Select(&rows, `SELECT COALESCE(json_extract(labels, '$.page'), '') AS page,
		name, AVG(value) AS avg, COUNT(*) AS count`+vitalWhere+
		` GROUP BY page, name ORDER BY page ASC`, lo, hi); err != nil {
		return err
	}
	idx := make(map[string]int)
	for i := range rows {
		r := &rows[i]
		pi, ok := idx[r.Page]
		if !ok {
			wv.Pages = append(wv.Pages, VitalPage{Page: r.Page})
			pi = len(wv.Pages) - 1
			idx[r.Page] = pi
		}
		p := &wv.Pages[pi]
		avg := r.Avg
		switch vitalKey(r.Name) {
		case `lcp`:
			p.LCP = &avg
		case `inp`:
			p.INP = &avg
		case `cls`:
			p.CLS = &avg
		}
		p.Samples += r.Count
	}
	return nil
}
