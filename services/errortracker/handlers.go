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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/notify"
	"github.com/monlight/monlight/version"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	alertTimeout = 15 * time.Second
)

type webserver struct {
	st  *errorStore
	nt  notify.Notifier
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
		r.Post(`/api/errors`, ws.handleIngest)
		r.Get(`/api/errors`, ws.handleList)
		r.Get(`/api/errors/{id}`, ws.handleDetail)
		r.Post(`/api/errors/{id}/resolve`, ws.handleResolve)
		r.Get(`/api/projects`, ws.handleProjects)
	})
	return r
}

type ingestResponse struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
	Count       int64  `json:"count"`
}

func (ws *webserver) handleIngest(w http.ResponseWriter, r *http.Request) {
	var rep dedup.Report
	if err := httpd.DecodeJSON(r, &rep); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	if err := rep.Validate(); err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := ws.st.IngestReport(&rep, time.Now())
	if err != nil {
		ws.lg.Error("failed to ingest error report", log.KV("project", rep.Project), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to store error report`)
		return
	}
	code := http.StatusCreated
	if out.Status == StatusIncremented {
		code = http.StatusOK
	}
	if out.Status == StatusCreated {
		ws.dispatchAlert(&rep, out)
	}
	httpd.WriteJSON(w, code, ingestResponse{
		ID:          out.ID,
		Status:      out.Status,
		Fingerprint: out.Fingerprint,
		Count:       out.Count,
	})
}

// dispatchAlert fires the new-group notification without holding up the
// ingest response. Failures are logged and swallowed.
func (ws *webserver) dispatchAlert(rep *dedup.Report, out IngestOutcome) {
	subject := fmt.Sprintf("[%s] New error: %s", rep.Project, rep.ExceptionType)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\nEnvironment: %s\nException: %s\nMessage: %s\nFingerprint: %s\n",
		rep.Project, rep.Environment, rep.ExceptionType, rep.Message, out.Fingerprint)
	if ws.cfg.BaseURL != `` {
		fmt.Fprintf(&sb, "\n%s/api/errors/%d\n", strings.TrimRight(ws.cfg.BaseURL, `/`), out.ID)
	}
	if rep.Traceback != `` {
		fmt.Fprintf(&sb, "\n%s\n", rep.Traceback)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := ws.nt.Notify(ctx, subject, sb.String()); err != nil && err != notify.ErrThrottled {
			ws.lg.Warn("failed to send alert", log.KV("project", rep.Project), log.KVErr(err))
		}
	}()
}

type listResponse struct {
	Errors []ErrorGroup `json:"errors"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (ws *webserver) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilters{
		Project:     q.Get(`project`),
		Environment: q.Get(`environment`),
		SessionID:   q.Get(`session_id`),
		Limit:       defaultListLimit,
	}
	if v := q.Get(`resolved`); v != `` {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httpd.WriteError(w, http.StatusBadRequest, `resolved must be a boolean`)
			return
		}
		f.Resolved = b
	}
	switch src := q.Get(`source`); src {
	case ``, `browser`, `server`:
		f.Source = src
	default:
		httpd.WriteError(w, http.StatusBadRequest, `source must be "browser" or "server"`)
		return
	}
	if v := q.Get(`limit`); v != `` {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpd.WriteError(w, http.StatusBadRequest, `limit must be a non-negative integer`)
			return
		}
		// zero means default, above the cap clamps to the cap
		if n > maxListLimit {
			n = maxListLimit
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
	groups, total, err := ws.st.List(f)
	if err != nil {
		ws.lg.Error("failed to list error groups", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to list errors`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, listResponse{
		Errors: groups,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

type detailResponse struct {
	ErrorGroup
	Occurrences []Occurrence `json:"occurrences"`
}

func (ws *webserver) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, occ, err := ws.st.Detail(id)
	if err != nil {
		if isNoRows(err) {
			httpd.WriteError(w, http.StatusNotFound, `error group not found`)
			return
		}
		ws.lg.Error("failed to load error group", log.KV("id", id), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to load error group`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, detailResponse{ErrorGroup: g, Occurrences: occ})
}

func (ws *webserver) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := ws.st.Resolve(id, time.Now())
	if err != nil {
		if isNoRows(err) {
			httpd.WriteError(w, http.StatusNotFound, `error group not found`)
			return
		}
		ws.lg.Error("failed to resolve error group", log.KV("id", id), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to resolve error group`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, g)
}

func (ws *webserver) handleProjects(w http.ResponseWriter, r *http.Request) {
	names, err := ws.st.Projects()
	if err != nil {
		ws.lg.Error("failed to list projects", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to list projects`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`projects`: names})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, `id`), 10, 64)
	if err != nil || id < 1 {
		httpd.WriteError(w, http.StatusBadRequest, `invalid id`)
		return 0, false
	}
	return id, true
}
