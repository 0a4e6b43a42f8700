/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sourcemap decodes source map v3 envelopes and maps positions in
// generated (minified) JavaScript back to the original sources.
package sourcemap

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	ErrBadVersion  = errors.New("unsupported source map version")
	ErrBadSegment  = errors.New("mapping segment has invalid field count")
	ErrBadSourceID = errors.New("mapping references source out of range")
)

// segment is one decoded mapping. Positions are 0-based per the format,
// source and name are -1 when the segment carried no such field.
type segment struct {
	genCol int
	source int
	line   int
	col    int
	name   int
}

// Map is a parsed source map. The envelope fields keep their JSON names so
// an uploaded map round-trips unchanged.
type Map struct {
	Version    int      `json:"version"`
	File       string   `json:"file,omitempty"`
	SourceRoot string   `json:"sourceRoot,omitempty"`
	Sources    []string `json:"sources"`
	Names      []string `json:"names,omitempty"`
	Mappings   string   `json:"mappings"`

	lines [][]segment
}

// Parse decodes a source map v3 document, including its full mappings index.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid source map: %w", err)
	}
	if m.Version != 3 {
		return nil, ErrBadVersion
	}
	lines, err := decodeMappings(m.Mappings)
	if err != nil {
		return nil, err
	}
	m.lines = lines
	return &m, nil
}

// decodeMappings expands the semicolon/comma packed VLQ mappings into
// per-generated-line segment lists. Generated column deltas reset on every
// line, the other four accumulators run across the whole file.
func decodeMappings(mappings string) ([][]segment, error) {
	var srcIdx, origLine, origCol, nameIdx int
	groups := strings.Split(mappings, `;`)
	lines := make([][]segment, len(groups))
	for li, group := range groups {
		if group == `` {
			continue
		}
		var genCol int
		segs := make([]segment, 0, strings.Count(group, `,`)+1)
		for _, raw := range strings.Split(group, `,`) {
			if raw == `` {
				continue
			}
			vals, err := decodeVLQFields(raw)
			if err != nil {
				return nil, fmt.Errorf("generated line %d: %w", li+1, err)
			}
			if len(vals) != 1 && len(vals) != 4 && len(vals) != 5 {
				return nil, ErrBadSegment
			}
			genCol += vals[0]
			s := segment{genCol: genCol, source: -1, name: -1}
			if len(vals) >= 4 {
				srcIdx += vals[1]
				origLine += vals[2]
				origCol += vals[3]
				s.source, s.line, s.col = srcIdx, origLine, origCol
			}
			if len(vals) == 5 {
				nameIdx += vals[4]
				s.name = nameIdx
			}
			segs = append(segs, s)
		}
		// not every generator emits columns in order
		sort.SliceStable(segs, func(i, j int) bool {
			return segs[i].genCol < segs[j].genCol
		})
		lines[li] = segs
	}
	return lines, nil
}

// OriginalPosition maps a generated position back to its original source.
// Line and column are 1-based the way browsers report them; the mapping
// segments are 0-based, and the returned position is 1-based again. The
// match is the nearest segment whose generated column does not exceed the
// frame column on the matching generated line.
func (m *Map) OriginalPosition(line, column int) (src string, origLine, origCol int, ok bool) {
	if m == nil || line < 1 || line > len(m.lines) {
		return
	}
	segs := m.lines[line-1]
	target := column - 1
	if target < 0 {
		target = 0
	}
	i := sort.Search(len(segs), func(i int) bool { return segs[i].genCol > target })
	if i == 0 {
		return
	}
	s := segs[i-1]
	if s.source < 0 || s.source >= len(m.Sources) {
		return
	}
	src = m.sourcePath(s.source)
	origLine = s.line + 1
	origCol = s.col + 1
	ok = true
	return
}

func (m *Map) sourcePath(idx int) string {
	src := m.Sources[idx]
	if m.SourceRoot == `` {
		return src
	}
	if strings.HasSuffix(m.SourceRoot, `/`) {
		return m.SourceRoot + src
	}
	return m.SourceRoot + `/` + src
}

// NormalizeURL strips the scheme and host from a frame URL so lookups match
// maps keyed by path alone. Relative and already-bare paths pass through.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == `` {
		return raw
	}
	if u.Path == `` {
		return `/`
	}
	return u.Path
}
