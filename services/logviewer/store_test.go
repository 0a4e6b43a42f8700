/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/monlight/monlight/store"
	"github.com/monlight/monlight/tailer"
)

var testBase = time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *logStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), `logs.db`))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err = db.Migrate(migrations); err != nil {
		t.Fatal(err)
	}
	return &logStore{db: db}
}

func seedEntries(t *testing.T, st *logStore, n int, container string) {
	t.Helper()
	entries := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, LogEntry{
			Timestamp: formatTime(testBase.Add(time.Duration(i) * time.Second)),
			Container: container,
			Stream:    `stdout`,
			Level:     `INFO`,
			Message:   fmt.Sprintf("message number %03d from %s", i, container),
		})
	}
	cur := tailer.Cursor{Container: container, Path: `/logs/` + container + `.log`, Offset: int64(n * 10), Inode: 7}
	if err := st.InsertBatch(entries, cur, testBase); err != nil {
		t.Fatal(err)
	}
}

func ftsCount(t *testing.T, st *logStore, match string) (n int64) {
	t.Helper()
	if err := st.db.Get(&n, `SELECT COUNT(*) FROM log_fts WHERE log_fts MATCH ?`, match); err != nil {
		t.Fatal(err)
	}
	return
}

func TestInsertAndSearch(t *testing.T) {
	st := testStore(t)
	entries := []LogEntry{
		{Timestamp: formatTime(testBase), Container: `web`, Stream: `stdout`, Level: `INFO`, Message: `user alice logged in`},
		{Timestamp: formatTime(testBase.Add(time.Second)), Container: `web`, Stream: `stderr`, Level: `ERROR`, Message: `database connection refused`},
	}
	cur := tailer.Cursor{Container: `web`, Path: `/x`, Offset: 100, Inode: 1}
	if err := st.InsertBatch(entries, cur, testBase); err != nil {
		t.Fatal(err)
	}
	got, total, err := st.Query(QueryFilters{Search: `refused`, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(got) != 1 || got[0].Message != `database connection refused` {
		t.Fatalf("search total %d got %+v", total, got)
	}
	// every entry has exactly one fts row
	if n := ftsCount(t, st, `alice`); n != 1 {
		t.Fatalf("fts rows for alice: %d", n)
	}
}

func TestCursorRoundtrip(t *testing.T) {
	st := testStore(t)
	cur := tailer.Cursor{Container: `web`, Path: `/var/lib/docker/x/x-json.log`, Offset: 500, Inode: 42}
	if err := st.InsertBatch(nil, cur, testBase); err != nil {
		t.Fatal(err)
	}
	got, err := st.LoadCursors()
	if err != nil {
		t.Fatal(err)
	}
	if got[`web`] != cur {
		t.Fatalf("cursor roundtrip %+v", got[`web`])
	}
	// upsert moves the same key forward
	cur.Offset, cur.Inode = 900, 43
	if err := st.InsertBatch(nil, cur, testBase.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, err = st.LoadCursors()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[`web`].Offset != 900 || got[`web`].Inode != 43 {
		t.Fatalf("cursor upsert %+v", got[`web`])
	}
}

func TestPrune(t *testing.T) {
	st := testStore(t)
	seedEntries(t, st, 10, `web`)
	// at the cap nothing is pruned
	pruned, err := st.Prune(10)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 0 {
		t.Fatalf("pruned %d at cap", pruned)
	}
	// one over the cap removes exactly the oldest
	pruned, err = st.Prune(9)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("pruned %d", pruned)
	}
	entries, total, err := st.Query(QueryFilters{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if total != 9 {
		t.Fatalf("total %d after prune", total)
	}
	for _, e := range entries {
		if e.Message == `message number 000 from web` {
			t.Fatal("oldest entry survived the prune")
		}
	}
	// fts rows die with their entries
	if n := ftsCount(t, st, `"message number 000"`); n != 0 {
		t.Fatalf("stale fts rows: %d", n)
	}
	if n := ftsCount(t, st, `"message number 001"`); n != 1 {
		t.Fatalf("live fts rows: %d", n)
	}
}

func TestQueryFilters(t *testing.T) {
	st := testStore(t)
	entries := []LogEntry{
		{Timestamp: formatTime(testBase), Container: `web`, Stream: `stdout`, Level: `INFO`, Message: `starting up`},
		{Timestamp: formatTime(testBase.Add(time.Minute)), Container: `web`, Stream: `stderr`, Level: `ERROR`, Message: `boom`},
		{Timestamp: formatTime(testBase.Add(2 * time.Minute)), Container: `db`, Stream: `stdout`, Level: `WARNING`, Message: `slow query`},
	}
	if err := st.InsertBatch(entries, tailer.Cursor{Container: `web`, Path: `/x`}, testBase); err != nil {
		t.Fatal(err)
	}

	got, total, err := st.Query(QueryFilters{Container: `web`, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("container filter total %d", total)
	}
	// newest first
	if got[0].Message != `boom` || got[1].Message != `starting up` {
		t.Fatalf("order %q %q", got[0].Message, got[1].Message)
	}
	_, total, err = st.Query(QueryFilters{Level: `ERROR`, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("level filter total %d", total)
	}
	_, total, err = st.Query(QueryFilters{Since: formatTime(testBase.Add(time.Minute)), Until: formatTime(testBase.Add(time.Minute)), Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("time bounds total %d", total)
	}
	got, total, err = st.Query(QueryFilters{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(got) != 1 || got[0].Message != `boom` {
		t.Fatalf("paging total %d got %+v", total, got)
	}
}

func TestContainersAndStats(t *testing.T) {
	st := testStore(t)
	seedEntries(t, st, 3, `web`)
	seedEntries(t, st, 2, `db`)
	cc, err := st.Containers()
	if err != nil {
		t.Fatal(err)
	}
	if len(cc) != 2 || cc[0].Name != `db` || cc[0].Count != 2 || cc[1].Name != `web` || cc[1].Count != 3 {
		t.Fatalf("containers %+v", cc)
	}
	stats, err := st.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 5 {
		t.Fatalf("stats total %d", stats.Total)
	}
	if stats.Oldest == nil || *stats.Oldest != `2026-07-14T12:00:00Z` {
		t.Fatalf("oldest %v", stats.Oldest)
	}
	if stats.Newest == nil || *stats.Newest != `2026-07-14T12:00:02Z` {
		t.Fatalf("newest %v", stats.Newest)
	}
	if stats.ByLevel[`INFO`] != 5 || stats.ByContainer[`web`] != 3 {
		t.Fatalf("breakdowns %+v", stats)
	}
}

func TestEntriesAfter(t *testing.T) {
	st := testStore(t)
	seedEntries(t, st, 5, `web`)
	max, err := maxEntryID(st.db)
	if err != nil {
		t.Fatal(err)
	}
	got, err := entriesAfter(st.db, max-2, ``, ``, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != max-1 || got[1].ID != max {
		t.Fatalf("entriesAfter %+v", got)
	}
	// level narrows the live feed
	got, err = entriesAfter(st.db, 0, ``, `ERROR`, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("level narrowed feed returned %d", len(got))
	}
}
