/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package tailer follows Docker json-file container logs across restarts,
// rotations, and truncations. A Manager discovers the log file for each
// watched container and reads newly appended lines on every poll, handing
// back an updated cursor the caller persists between passes.
package tailer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/monlight/monlight/log"
)

const (
	// DefaultTailBuffer caps how far back a cold start replays.
	DefaultTailBuffer = 64 * 1024

	defaultMaxBatch = 8 * 1024 * 1024
	readBufSize     = 64 * 1024
)

// Cursor records where tailing left off for one container. Offset is only
// honoured while Inode still names the same file.
type Cursor struct {
	Container string
	Path      string
	Offset    int64
	Inode     uint64
}

// Batch is the outcome of one tail pass over one container: the complete
// lines read and the cursor to persist once they are processed.
type Batch struct {
	Container string
	Lines     [][]byte
	Cursor    Cursor
	Rotated   bool
}

type Config struct {
	Roots         []string
	Containers    []string
	TailBuffer    int64
	CachePath     string
	MaxBatchBytes int64
}

// Manager tracks the watched containers of one service. Poll is not safe
// for concurrent use; the ingestion worker is its only caller.
type Manager struct {
	cfg   Config
	lg    *log.KVLogger
	want  map[string]bool
	paths map[string]string
	cache pathCache
	fsw   *fsnotify.Watcher
	dirty atomic.Bool
}

func NewManager(cfg Config, lg *log.KVLogger) (*Manager, error) {
	if cfg.TailBuffer <= 0 {
		cfg.TailBuffer = DefaultTailBuffer
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = defaultMaxBatch
	}
	m := &Manager{
		cfg:   cfg,
		lg:    lg,
		want:  make(map[string]bool, len(cfg.Containers)),
		paths: make(map[string]string, len(cfg.Containers)),
		cache: pathCache{file: cfg.CachePath},
	}
	for _, c := range cfg.Containers {
		if c = normalizeContainer(c); c != `` {
			m.want[c] = true
		}
	}
	for name, p := range m.cache.load() {
		if !m.want[name] {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			m.paths[name] = p
		}
	}
	m.watchRoots()
	return m, nil
}

// watchRoots arms filesystem notifications on the log roots so container
// creation wakes discovery before the regular poll would find it. Failures
// only cost latency; discovery also runs whenever a container is missing.
func (m *Manager) watchRoots() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.lg.Warn("log root watch unavailable", log.KVErr(err))
		return
	}
	var armed int
	for _, root := range m.cfg.Roots {
		if err = w.Add(root); err != nil {
			m.lg.Info("log root not watchable", log.KV("root", root), log.KVErr(err))
			continue
		}
		armed++
	}
	if armed == 0 {
		w.Close()
		return
	}
	m.fsw = w
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				m.dirty.Store(true)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (m *Manager) Close() error {
	if m.fsw != nil {
		return m.fsw.Close()
	}
	return nil
}

// Poll runs one cycle: discovery for any container without a known path,
// then a tail pass per discovered container in name order. The caller
// persists each batch's cursor after processing its lines.
func (m *Manager) Poll(ctx context.Context, cursors map[string]Cursor) ([]Batch, error) {
	if m.dirty.Swap(false) || len(m.paths) < len(m.want) {
		m.discover()
	}
	names := make([]string, 0, len(m.paths))
	for name := range m.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	batches := make([]Batch, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return batches, err
		}
		path := m.paths[name]
		cur, hasCur := cursors[name]
		res, err := tailFile(path, cur, hasCur, m.cfg.TailBuffer, m.cfg.MaxBatchBytes)
		if err != nil {
			if os.IsNotExist(err) {
				delete(m.paths, name)
				m.dirty.Store(true)
			}
			m.lg.Warn("log tail failed", log.KV("container", name), log.KV("path", path), log.KVErr(err))
			continue
		}
		if res.rotated {
			m.lg.Info("log file rotated", log.KV("container", name), log.KV("path", path))
		} else if res.truncated {
			m.lg.Info("log file truncated", log.KV("container", name), log.KV("path", path))
		}
		batches = append(batches, Batch{
			Container: name,
			Lines:     res.lines,
			Rotated:   res.rotated,
			Cursor: Cursor{
				Container: name,
				Path:      path,
				Offset:    res.offset,
				Inode:     res.inode,
			},
		})
	}
	return batches, nil
}

func (m *Manager) discover() {
	found := discoverRoots(m.cfg.Roots, m.want)
	var changed bool
	for name, p := range found {
		if m.paths[name] == p {
			continue
		}
		m.paths[name] = p
		changed = true
		m.lg.Info("container log discovered", log.KV("container", name), log.KV("path", p))
	}
	if changed {
		if err := m.cache.store(m.paths); err != nil {
			m.lg.Warn("discovery cache write failed", log.KVErr(err))
		}
	}
}

type tailResult struct {
	lines     [][]byte
	offset    int64
	inode     uint64
	rotated   bool
	truncated bool
}

// tailFile performs one read pass. With no cursor it seeks to within
// tailBuffer bytes of the end and advances to a line boundary; with a
// cursor it resumes at the saved offset unless the inode changed (rotation)
// or the offset exceeds the size (truncation), both of which restart from
// zero. Only complete lines are consumed; a partial tail line waits for the
// next pass.
func tailFile(path string, cur Cursor, hasCur bool, tailBuffer, maxBytes int64) (res tailResult, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return
	}
	size := fi.Size()
	res.inode = fileID(fi)

	var start int64
	switch {
	case !hasCur:
		if size > tailBuffer {
			start = size - tailBuffer
		}
	case cur.Inode != res.inode:
		res.rotated = true
	case cur.Offset > size:
		res.truncated = true
	default:
		start = cur.Offset
	}
	if _, err = f.Seek(start, io.SeekStart); err != nil {
		return
	}
	br := bufio.NewReaderSize(f, readBufSize)
	if !hasCur && start > 0 {
		// the seek landed mid-line; drop the fragment
		skipped, serr := br.ReadBytes('\n')
		if serr != nil {
			res.offset = size
			return res, nil
		}
		start += int64(len(skipped))
	}
	res.offset = start
	for {
		line, rerr := br.ReadBytes('\n')
		if rerr == io.EOF {
			break
		} else if rerr != nil {
			err = rerr
			return
		}
		res.offset += int64(len(line))
		res.lines = append(res.lines, bytes.TrimRight(line, "\r\n"))
		if res.offset-start >= maxBytes {
			break
		}
	}
	return res, nil
}
