/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sourcemap

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeVLQ(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`A`, 0},
		{`C`, 1},
		{`D`, -1},
		{`E`, 2},
		{`F`, -2},
		{`I`, 4},
		{`Q`, 8},
		{`Y`, 12},
		{`gB`, 16},
		{`w+B`, 1000},
	}
	for _, c := range cases {
		v, n, err := decodeVLQ(c.in)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if v != c.want || n != len(c.in) {
			t.Fatalf("%q: got %d (consumed %d), want %d", c.in, v, n, c.want)
		}
	}
}

func TestDecodeVLQErrors(t *testing.T) {
	if _, _, err := decodeVLQ(`g`); err != ErrVLQTruncated {
		t.Fatalf("truncated: %v", err)
	}
	if _, _, err := decodeVLQ(`!`); err == nil {
		t.Fatal("invalid character accepted")
	}
	if _, _, err := decodeVLQ(`ggggggggggA`); err != ErrVLQOverflow {
		t.Fatalf("overflow: %v", err)
	}
}

func TestDecodeVLQFields(t *testing.T) {
	vals, err := decodeVLQFields(`QACI`)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{8, 0, 1, 4}
	if len(vals) != len(want) {
		t.Fatalf("got %v", vals)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("got %v, want %v", vals, want)
		}
	}
}

const testMap = `{
	"version": 3,
	"file": "app.min.js",
	"sourceRoot": "webpack:///",
	"sources": ["src/app.js"],
	"names": ["handler"],
	"mappings": "AAAA,QACI,YACF;AACF,KAAEA"
}`

func mustParse(t *testing.T, doc string) *Map {
	t.Helper()
	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestParseRejectsBadVersion(t *testing.T) {
	if _, err := Parse([]byte(`{"version":2,"sources":[],"mappings":""}`)); err != ErrBadVersion {
		t.Fatalf("got %v", err)
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
	if _, err := Parse([]byte(`{"version":3,"sources":[],"mappings":"!!"}`)); err == nil {
		t.Fatal("bad mappings accepted")
	}
}

func TestOriginalPosition(t *testing.T) {
	m := mustParse(t, testMap)
	cases := []struct {
		line, col         int
		wantLine, wantCol int
	}{
		{1, 1, 1, 1},   // exact first segment
		{1, 7, 1, 1},   // before the second segment, nearest is the first
		{1, 11, 2, 5},  // between segments at columns 8 and 20
		{1, 21, 3, 3},  // exact third segment
		{1, 999, 3, 3}, // past the last segment
		{2, 1, 4, 1},   // second generated line
		{2, 7, 4, 3},   // named segment on the second line
	}
	for _, c := range cases {
		src, ln, col, ok := m.OriginalPosition(c.line, c.col)
		if !ok {
			t.Fatalf("(%d,%d): no position", c.line, c.col)
		}
		if src != `webpack:///src/app.js` {
			t.Fatalf("(%d,%d): wrong source %q", c.line, c.col, src)
		}
		if ln != c.wantLine || col != c.wantCol {
			t.Fatalf("(%d,%d): got %d:%d, want %d:%d", c.line, c.col, ln, col, c.wantLine, c.wantCol)
		}
	}
}

func TestOriginalPositionMisses(t *testing.T) {
	m := mustParse(t, testMap)
	if _, _, _, ok := m.OriginalPosition(3, 1); ok {
		t.Fatal("line past the mapping resolved")
	}
	if _, _, _, ok := m.OriginalPosition(0, 1); ok {
		t.Fatal("line zero resolved")
	}
	// a generated-column-only segment carries no original position
	bare := mustParse(t, `{"version":3,"sources":["a.js"],"mappings":"AAAA;E"}`)
	if _, _, _, ok := bare.OriginalPosition(2, 5); ok {
		t.Fatal("bare segment resolved")
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{`https://cdn.example.com/assets/app.min.js`, `/assets/app.min.js`},
		{`http://host:8080/a.js`, `/a.js`},
		{`/already/bare.js`, `/already/bare.js`},
		{`app.js`, `app.js`},
		{`https://host`, `/`},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.in); got != c.want {
			t.Fatalf("%q: got %q, want %q", c.in, got, c.want)
		}
	}
}

type fakeLookup struct {
	maps  map[string]*Map
	err   error
	calls []string
}

func (fl *fakeLookup) MapLookup(project, release, fileURL string) (*Map, error) {
	fl.calls = append(fl.calls, fileURL)
	if fl.err != nil {
		return nil, fl.err
	}
	return fl.maps[fileURL], nil
}

const browserStack = `TypeError: boom
    at renderUser (https://cdn.test/assets/app.min.js:1:11)
    at https://cdn.test/assets/other.js:1:1`

func TestRewriteStack(t *testing.T) {
	fl := &fakeLookup{maps: map[string]*Map{
		`/assets/app.min.js`: mustParse(t, testMap),
	}}
	out := RewriteStack(fl, `web`, `1.0.0`, browserStack)
	if !strings.Contains(out, `at renderUser (webpack:///src/app.js:2:5)`) {
		t.Fatalf("frame not rewritten:\n%s", out)
	}
	if !strings.Contains(out, `at https://cdn.test/assets/other.js:1:1`) {
		t.Fatalf("unmapped frame changed:\n%s", out)
	}
	if !strings.HasPrefix(out, `TypeError: boom`) {
		t.Fatalf("message line changed:\n%s", out)
	}
}

func TestRewriteStackLookupFailureFailsOpen(t *testing.T) {
	fl := &fakeLookup{err: errors.New(`storage down`)}
	if out := RewriteStack(fl, `web`, `1.0.0`, browserStack); out != browserStack {
		t.Fatalf("stack changed on lookup failure:\n%s", out)
	}
}

func TestRewriteStackCachesPerFile(t *testing.T) {
	stack := `    at a (https://cdn.test/app.js:1:1)
    at b (https://cdn.test/app.js:1:9)`
	fl := &fakeLookup{}
	RewriteStack(fl, `web`, ``, stack)
	if len(fl.calls) != 1 {
		t.Fatalf("expected one lookup per file, got %v", fl.calls)
	}
	if fl.calls[0] != `/app.js` {
		t.Fatalf("URL not normalized: %v", fl.calls)
	}
}
