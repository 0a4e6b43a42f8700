/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tailer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/monlight/monlight/log"
)

func testKV() *log.KVLogger {
	return log.NewLoggerWithKV(log.NewDiscardLogger())
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	for _, ln := range lines {
		buf.WriteString(ln)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0660); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err = f.WriteString(s); err != nil {
		t.Fatal(err)
	}
}

func TestTailColdStartBuffer(t *testing.T) {
	p := filepath.Join(t.TempDir(), `c-json.log`)
	var buf bytes.Buffer
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&buf, "line-%03d\n", i)
	}
	if err := os.WriteFile(p, buf.Bytes(), 0660); err != nil {
		t.Fatal(err)
	}
	// 900 byte file, 50 byte window: seek to 850, mid line 94, so the
	// first complete line is 95
	res, err := tailFile(p, Cursor{}, false, 50, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(res.lines))
	}
	if string(res.lines[0]) != `line-095` || string(res.lines[4]) != `line-099` {
		t.Fatalf("wrong window: %q .. %q", res.lines[0], res.lines[4])
	}
	if res.offset != 900 {
		t.Fatalf("offset = %d, want 900", res.offset)
	}
}

func TestTailColdStartSmallFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), `c-json.log`)
	writeLines(t, p, `a`, `b`, `c`)
	res, err := tailFile(p, Cursor{}, false, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(res.lines))
	}
	if res.offset != 6 {
		t.Fatalf("offset = %d, want 6", res.offset)
	}
}

func TestTailResume(t *testing.T) {
	p := filepath.Join(t.TempDir(), `c-json.log`)
	writeLines(t, p, `one`, `two`)
	first, err := tailFile(p, Cursor{}, false, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	cur := Cursor{Offset: first.offset, Inode: first.inode}
	appendFile(t, p, "three\nfour\n")
	res, err := tailFile(p, cur, true, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.lines) != 2 || string(res.lines[0]) != `three` || string(res.lines[1]) != `four` {
		t.Fatalf("wrong delta: %q", res.lines)
	}
	if res.rotated || res.truncated {
		t.Fatalf("spurious restart: %+v", res)
	}
}

func TestTailTruncation(t *testing.T) {
	p := filepath.Join(t.TempDir(), `c-json.log`)
	writeLines(t, p, `aaaaaaaaaa`, `bbbbbbbbbb`, `cccccccccc`)
	first, err := tailFile(p, Cursor{}, false, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	// in-place rewrite keeps the inode but shrinks the file
	writeLines(t, p, `fresh`)
	res, err := tailFile(p, Cursor{Offset: first.offset, Inode: first.inode}, true, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if !res.truncated {
		t.Fatal("truncation not detected")
	}
	if len(res.lines) != 1 || string(res.lines[0]) != `fresh` {
		t.Fatalf("wrong restart read: %q", res.lines)
	}
	if res.offset != 6 {
		t.Fatalf("offset = %d, want 6", res.offset)
	}
}

func TestTailRotation(t *testing.T) {
	if runtime.GOOS != `linux` {
		t.Skip("inode identity requires linux")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, `c-json.log`)
	writeLines(t, p, `old-one`, `old-two`)
	first, err := tailFile(p, Cursor{}, false, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	// build the replacement while the original still exists so the two
	// cannot share an inode, then swap it in
	next := filepath.Join(dir, `next`)
	writeLines(t, next, `new-1`, `new-2`, `new-3`)
	if err = os.Rename(next, p); err != nil {
		t.Fatal(err)
	}
	res, err := tailFile(p, Cursor{Offset: first.offset, Inode: first.inode}, true, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if !res.rotated {
		t.Fatal("rotation not detected")
	}
	if len(res.lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(res.lines))
	}
	if res.inode == first.inode {
		t.Fatal("inode did not change")
	}
	if res.offset != 18 {
		t.Fatalf("offset = %d, want file size 18", res.offset)
	}
}

func TestTailPartialLineHeldBack(t *testing.T) {
	p := filepath.Join(t.TempDir(), `c-json.log`)
	if err := os.WriteFile(p, []byte("complete\npart"), 0660); err != nil {
		t.Fatal(err)
	}
	first, err := tailFile(p, Cursor{}, false, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.lines) != 1 || string(first.lines[0]) != `complete` {
		t.Fatalf("partial line consumed: %q", first.lines)
	}
	if first.offset != 9 {
		t.Fatalf("offset = %d, want 9", first.offset)
	}
	appendFile(t, p, "ial\n")
	res, err := tailFile(p, Cursor{Offset: first.offset, Inode: first.inode}, true, DefaultTailBuffer, defaultMaxBatch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.lines) != 1 || string(res.lines[0]) != `partial` {
		t.Fatalf("reassembled line wrong: %q", res.lines)
	}
}

func makeContainer(t *testing.T, root, id, name string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0770); err != nil {
		t.Fatal(err)
	}
	meta := fmt.Sprintf(`{"ID":%q,"Name":"/%s","Image":"sha256:0"}`, id, name)
	if err := os.WriteFile(filepath.Join(dir, metaFile), []byte(meta), 0660); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, id+`-json.log`)
	writeLines(t, p, lines...)
	return p
}

func TestDiscoverRoots(t *testing.T) {
	root := t.TempDir()
	webLog := makeContainer(t, root, `aaa111`, `web`, `{"log":"hi\n","stream":"stdout","time":"2026-03-01T10:00:00Z"}`)
	dbLog := makeContainer(t, root, `bbb222`, `db`, `{"log":"db up\n","stream":"stdout","time":"2026-03-01T10:00:00Z"}`)
	makeContainer(t, root, `ccc333`, `ignored`, `x`)
	if err := os.WriteFile(filepath.Join(root, `noise.txt`), []byte(`noise`), 0660); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, `ddd444`), 0770); err != nil {
		t.Fatal(err)
	}
	found := discoverRoots([]string{root, filepath.Join(root, `missing`)}, map[string]bool{`web`: true, `db`: true})
	if len(found) != 2 {
		t.Fatalf("found %v", found)
	}
	if found[`web`] != webLog || found[`db`] != dbLog {
		t.Fatalf("wrong paths: %v", found)
	}
}

func TestPathCache(t *testing.T) {
	pc := pathCache{file: filepath.Join(t.TempDir(), `paths.cache`)}
	if m := pc.load(); len(m) != 0 {
		t.Fatalf("missing cache loaded data: %v", m)
	}
	want := map[string]string{`web`: `/a/b-json.log`, `db`: `/c/d-json.log`}
	if err := pc.store(want); err != nil {
		t.Fatal(err)
	}
	got := pc.load()
	if len(got) != 2 || got[`web`] != want[`web`] || got[`db`] != want[`db`] {
		t.Fatalf("round trip failed: %v", got)
	}
	// disabled cache is a noop
	none := pathCache{}
	if err := none.store(want); err != nil {
		t.Fatal(err)
	}
}

func TestManagerPoll(t *testing.T) {
	root := t.TempDir()
	logPath := makeContainer(t, root, `aaa111`, `web`,
		`{"log":"one\n","stream":"stdout","time":"2026-03-01T10:00:00Z"}`,
		`{"log":"two\n","stream":"stdout","time":"2026-03-01T10:00:01Z"}`)
	m, err := NewManager(Config{
		Roots:      []string{root},
		Containers: []string{`web`, `gone`},
		CachePath:  filepath.Join(root, `discovery.cache`),
	}, testKV())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	batches, err := m.Poll(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	b := batches[0]
	if b.Container != `web` || len(b.Lines) != 2 {
		t.Fatalf("bad batch: %+v", b)
	}
	if b.Cursor.Path != logPath || b.Cursor.Offset == 0 {
		t.Fatalf("bad cursor: %+v", b.Cursor)
	}

	appendFile(t, logPath, `{"log":"three\n","stream":"stderr","time":"2026-03-01T10:00:02Z"}`+"\n")
	batches, err = m.Poll(context.Background(), map[string]Cursor{`web`: b.Cursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || len(batches[0].Lines) != 1 {
		t.Fatalf("delta poll wrong: %+v", batches)
	}
	if got := string(batches[0].Lines[0]); got != `{"log":"three\n","stream":"stderr","time":"2026-03-01T10:00:02Z"}` {
		t.Fatalf("wrong line: %q", got)
	}
	if _, err = os.Stat(filepath.Join(root, `discovery.cache`)); err != nil {
		t.Fatalf("discovery cache not written: %v", err)
	}
}

func TestManagerPollCancelled(t *testing.T) {
	root := t.TempDir()
	makeContainer(t, root, `aaa111`, `web`, `x`)
	m, err := NewManager(Config{Roots: []string{root}, Containers: []string{`web`}}, testKV())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err = m.Poll(ctx, nil); err == nil {
		t.Fatal("cancelled poll returned no error")
	}
}
