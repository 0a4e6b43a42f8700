/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rollup holds the pure parts of the metric aggregation engine:
// point validation, label canonicalization, bucket and period arithmetic,
// and nearest-rank percentiles.
package rollup

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Metric types accepted at ingest. Percentiles are only computed for
// histograms.
const (
	TypeCounter   = `counter`
	TypeHistogram = `histogram`
	TypeGauge     = `gauge`
)

// Aggregate resolutions.
const (
	ResolutionMinute = `minute`
	ResolutionHour   = `hour`
	ResolutionAuto   = `auto`
)

const maxMetricName = 200

var (
	ErrMissingName   = errors.New("name is required")
	ErrBadType       = errors.New("type must be counter, histogram, or gauge")
	ErrBadPeriod     = errors.New("period must be one of 1h, 24h, 7d, 30d")
	ErrBadResolution = errors.New("resolution must be minute, hour, or auto")
	ErrBadLabels     = errors.New("labels must be a JSON object")
)

// Point is one raw metric submission.
type Point struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Value     float64         `json:"value"`
	Labels    json.RawMessage `json:"labels,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func (p *Point) Validate() error {
	if p.Name == `` {
		return ErrMissingName
	}
	if len(p.Name) > maxMetricName {
		return fmt.Errorf("name exceeds %d characters", maxMetricName)
	}
	switch p.Type {
	case TypeCounter, TypeHistogram, TypeGauge:
	default:
		return ErrBadType
	}
	return nil
}

// CanonicalLabels normalizes a raw labels value to its canonical string
// form: object keys sorted, no insignificant whitespace. Absent and null
// labels yield nil so the store can keep them as NULL.
func CanonicalLabels(raw json.RawMessage) (*string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == `` || trimmed == `null` {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ErrBadLabels
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, ErrBadLabels
	}
	s := string(b)
	return &s, nil
}

// ParseLabelFilter turns the query form `k1:v1,k2:v2` into the canonical
// string it must match exactly. Empty input matches rows with any labels.
func ParseLabelFilter(s string) (*string, error) {
	if s = strings.TrimSpace(s); s == `` {
		return nil, nil
	}
	m := make(map[string]interface{})
	for _, pair := range strings.Split(s, `,`) {
		k, v, ok := strings.Cut(pair, `:`)
		if !ok || strings.TrimSpace(k) == `` {
			return nil, fmt.Errorf("invalid label filter element %q", pair)
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s = string(b)
	return &s, nil
}

// ParsePeriod maps the query periods onto durations, defaulting to 24h.
func ParsePeriod(s string) (time.Duration, error) {
	switch s {
	case ``, `24h`:
		return 24 * time.Hour, nil
	case `1h`:
		return time.Hour, nil
	case `7d`:
		return 7 * 24 * time.Hour, nil
	case `30d`:
		return 30 * 24 * time.Hour, nil
	}
	return 0, ErrBadPeriod
}

// PickResolution resolves `auto` to minute rows for periods up to 24h and
// hour rows beyond.
func PickResolution(res string, period time.Duration) (string, error) {
	switch res {
	case ResolutionMinute, ResolutionHour:
		return res, nil
	case ``, ResolutionAuto:
		if period <= 24*time.Hour {
			return ResolutionMinute, nil
		}
		return ResolutionHour, nil
	}
	return ``, ErrBadResolution
}

// MinuteBucket aligns t down to its UTC minute.
func MinuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// HourBucket aligns t down to its UTC hour.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// PrevMinute returns the start of the last completed minute before t.
func PrevMinute(t time.Time) time.Time {
	return MinuteBucket(t).Add(-time.Minute)
}

// PrevHour returns the start of the last completed hour before t.
func PrevHour(t time.Time) time.Time {
	return HourBucket(t).Add(-time.Hour)
}

/// rankIndex is the nearest-rank method: the index of the p-th percentile
// over n sorted values is ceil(p*n/100)-1, clipped to the valid range.
func rankIndex(p float64, n int) int {
	r := int(math.Ceil(p*float64(n)/100)) - 1
	if r < 0 {
		r = 0
	}
	if r >= n {
		r = n - 1
	}
	return r
}

// Percentiles computes p50/p95/p99 over vals by the nearest-rank method.
// vals is sorted in place.
func Percentiles(vals []float64) (p50, p95, p99 float64) {
	n := len(vals)
	if n == 0 {
		return
	}
	sort.Float64s(vals)
	p50 = vals[rankIndex(50, n)]
	p95 = vals[rankIndex(95, n)]
	p99 = vals[rankIndex(99, n)]
	return
}

// Mean is the arithmetic mean, used to fold minute percentiles into hour
// rows.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// timestamp layouts tried in order when a point carries one.
var tsLayouts = []string{
	time.RFC3339Nano,
	`2006-01-02T15:04:05`,
	`2006-01-02 15:04:05`,
}

// ParseTimestamp interprets a client supplied timestamp, assuming UTC when
// the zone is absent. ok is false when nothing matches and the caller
// should fall back to its own clock.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	if s == `` {
		return
	}
	for _, layout := range tsLayouts {
		var err error
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
