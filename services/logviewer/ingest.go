/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"sync"
	"time"

	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/logproc"
	"github.com/monlight/monlight/tailer"
	"github.com/monlight/monlight/utils"
)

type ingestWorker struct {
	st      *logStore
	mgr     *tailer.Manager
	lg      *log.KVLogger
	poll    time.Duration
	maxRows int64
	cursors map[string]tailer.Cursor
}

func newIngestWorker(st *logStore, mgr *tailer.Manager, lg *log.KVLogger, poll time.Duration, maxRows int64) (*ingestWorker, error) {
	cursors, err := st.LoadCursors()
	if err != nil {
		return nil, err
	}
	return &ingestWorker{
		st:      st,
		mgr:     mgr,
		lg:      lg,
		poll:    poll,
		maxRows: maxRows,
		cursors: cursors,
	}, nil
}

func (iw *ingestWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if err := iw.cycle(ctx); err != nil && ctx.Err() == nil {
			iw.lg.Error("ingest cycle failed", log.KVErr(err))
		}
		if !utils.SleepContext(ctx, iw.poll) {
			return
		}
	}
}

// cycle polls every watched container once, converting raw docker lines to
// reassembled entries and landing each batch with its cursor in one
// transaction. The entry cap is enforced after all batches land.
func (iw *ingestWorker) cycle(ctx context.Context) error {
	batches, err := iw.mgr.Poll(ctx, iw.cursors)
	if err != nil {
		return err
	}
	now := time.Now()
	var inserted int
	for _, b := range batches {
		entries := assembleEntries(b, now)
		if err = iw.st.InsertBatch(entries, b.Cursor, now); err != nil {
			iw.lg.Error("failed to persist log batch",
				log.KV("container", b.Container), log.KV("entries", len(entries)), log.KVErr(err))
			continue
		}
		iw.cursors[b.Container] = b.Cursor
		inserted += len(entries)
	}
	if inserted > 0 {
		iw.lg.Debug("ingested log entries", log.KV("entries", inserted), log.KV("containers", len(batches)))
	}
	pruned, err := iw.st.Prune(iw.maxRows)
	if err != nil {
		return err
	}
	if pruned > 0 {
		iw.lg.Debug("pruned log entries", log.KV("pruned", pruned))
	}
	return nil
}

// assembleEntries decodes the docker JSON envelope on each line and folds
// continuation lines into multiline entries. The reassembler state does not
// carry across polls, the batch boundary flushes the final entry.
func assembleEntries(b tailer.Batch, now time.Time) (out []LogEntry) {
	var ra logproc.Reassembler
	flush := func(e *logproc.Entry) {
		if e == nil {
			return
		}
		ts := e.Time
		if ts.IsZero() {
			ts = now
		}
		out = append(out, LogEntry{
			Timestamp: formatTime(ts),
			Container: b.Container,
			Stream:    e.Stream,
			Level:     logproc.Level(e.Message, e.Stream),
			Message:   e.Message,
		})
	}
	for _, line := range b.Lines {
		if len(line) == 0 {
			continue
		}
		dl, err := logproc.ParseDockerLine(line)
		if err != nil {
			// not a docker envelope, treat the raw bytes as the message
			dl = logproc.DockerLine{Log: string(line), Stream: `stdout`}
		}
		flush(ra.Feed(dl))
	}
	flush(ra.Flush())
	return
}
