/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/logproc"
	"github.com/monlight/monlight/version"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

type webserver struct {
	st  *logStore
	rdb *sqlx.DB
	lg  *log.KVLogger
	cfg *cfgType
}

func (ws *webserver) routes(lim *httpd.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Get(`/health`, httpd.HealthHandler(appName, version.GetVersion(), ws.st.healthExtra))
	r.Group(func(r chi.Router) {
		r.Use(lim.Middleware)
		r.Use(httpd.APIKeyAuth(ws.cfg.APIKey))
		r.Use(httpd.BodyLimit(maxBodySize))
		r.Get(`/api/logs`, ws.handleQuery)
		r.Get(`/api/logs/tail`, ws.handleTail)
		r.Get(`/api/logs/containers`, ws.handleContainers)
		r.Get(`/api/logs/stats`, ws.handleStats)
	})
	return r
}

type queryResponse struct {
	Logs   []LogEntry `json:"logs"`
	Total  int64      `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

func (ws *webserver) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := QueryFilters{
		Container: q.Get(`container`),
		Search:    q.Get(`q`),
		Limit:     defaultQueryLimit,
	}
	if v := q.Get(`level`); v != `` {
		lv, ok := logproc.CanonicalLevel(v)
		if !ok {
			httpd.WriteError(w, http.StatusBadRequest, `unknown level`)
			return
		}
		f.Level = lv
	}
	if v := q.Get(`since`); v != `` {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpd.WriteError(w, http.StatusBadRequest, `since must be an RFC3339 timestamp`)
			return
		}
		f.Since = formatTime(t)
	}
	if v := q.Get(`until`); v != `` {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpd.WriteError(w, http.StatusBadRequest, `until must be an RFC3339 timestamp`)
			return
		}
		f.Until = formatTime(t)
	}
	if v := q.Get(`limit`); v != `` {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpd.WriteError(w, http.StatusBadRequest, `limit must be a non-negative integer`)
			return
		}
		if n > maxQueryLimit {
			n = maxQueryLimit
		}
		if n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get(`offset`); v != `` {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpd.WriteError(w, http.StatusBadRequest, `offset must be a non-negative integer`)
			return
		}
		f.Offset = n
	}
	entries, total, err := ws.st.Query(f)
	if err != nil {
		if f.Search != `` && isFTSError(err) {
			httpd.WriteError(w, http.StatusBadRequest, `invalid search query`)
			return
		}
		ws.lg.Error("log query failed", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `log query failed`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, queryResponse{
		Logs:   entries,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

func (ws *webserver) handleContainers(w http.ResponseWriter, r *http.Request) {
	out, err := ws.st.Containers()
	if err != nil {
		ws.lg.Error("container listing failed", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `container listing failed`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`containers`: out})
}

func (ws *webserver) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := ws.st.Stats()
	if err != nil {
		ws.lg.Error("stats query failed", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `stats query failed`)
		return
	}
	st.WatchedCount = len(ws.cfg.Containers)
	httpd.WriteJSON(w, http.StatusOK, st)
}
