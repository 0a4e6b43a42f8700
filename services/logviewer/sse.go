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
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/logproc"
)

const (
	maxTailConns  = 5
	tailPoll      = time.Second
	heartbeatIdle = 15 * time.Second
	tailLifetime  = 30 * time.Minute

	// entries drained per poll tick, a burst beyond this is picked up on
	// the next tick
	tailChunk = 256
)

// process-wide live tail connection count
var activeTails atomic.Int64

// handleTail streams new entries over SSE. The cursor starts at the current
// max id so only entries ingested after connect are delivered. The writer
// polls the reader pool once per second and exits on client disconnect,
// write failure, or the session lifetime.
func (ws *webserver) handleTail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	container := q.Get(`container`)
	level := q.Get(`level`)
	if level != `` {
		lv, ok := logproc.CanonicalLevel(level)
		if !ok {
			httpd.WriteError(w, http.StatusBadRequest, `unknown level`)
			return
		}
		level = lv
	}
	if n := activeTails.Add(1); n > maxTailConns {
		activeTails.Add(-1)
		httpd.WriteError(w, http.StatusServiceUnavailable, `too many live tail connections`)
		return
	}
	defer activeTails.Add(-1)

	fl, err := httpd.Flusher(w)
	if err != nil {
		httpd.WriteError(w, http.StatusInternalServerError, `streaming unsupported`)
		return
	}
	cursor, err := maxEntryID(ws.rdb)
	if err != nil {
		ws.lg.Error("failed to establish tail cursor", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to establish tail cursor`)
		return
	}
	httpd.SetSSEHeaders(w)
	fl.Flush()
	ws.lg.Info("live tail opened", log.KV("container", container), log.KV("active", activeTails.Load()))

	lifetime := time.NewTimer(tailLifetime)
	defer lifetime.Stop()
	tick := time.NewTicker(tailPoll)
	defer tick.Stop()
	lastWrite := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-lifetime.C:
			httpd.WriteSSEEvent(w, fl, httpd.SSEEvent{
				Event: `close`,
				Data:  `{"reason":"session lifetime reached"}`,
			})
			return
		case <-tick.C:
			entries, err := entriesAfter(ws.rdb, cursor, container, level, tailChunk)
			if err != nil {
				ws.lg.Error("live tail query failed", log.KVErr(err))
				continue
			}
			for i := range entries {
				data, err := json.Marshal(&entries[i])
				if err != nil {
					continue
				}
				ev := httpd.SSEEvent{
					Event: `log`,
					ID:    strconv.FormatInt(entries[i].ID, 10),
					Data:  string(data),
				}
				if err = httpd.WriteSSEEvent(w, fl, ev); err != nil {
					return
				}
				cursor = entries[i].ID
				lastWrite = time.Now()
			}
			if len(entries) == 0 && time.Since(lastWrite) >= heartbeatIdle {
				ev := httpd.SSEEvent{
					Event: `heartbeat`,
					Data:  fmt.Sprintf(`{"ts":%q}`, formatTime(time.Now())),
				}
				if err = httpd.WriteSSEEvent(w, fl, ev); err != nil {
					return
				}
				lastWrite = time.Now()
			}
		}
	}
}
