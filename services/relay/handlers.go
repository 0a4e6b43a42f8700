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
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/monlight/monlight/client"
	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/sourcemap"
	"github.com/monlight/monlight/version"
)

const (
	maxProjectName = 200

	// admin gate leaves headroom above the 5MB map content cap for the
	// upload envelope fields
	adminBodySize = 6 * 1024 * 1024

	corsMaxAge = 86400

	probeTimeout = 3 * time.Second

	// request_method stamped on forwarded browser reports, the error
	// tracker's source filter keys off it
	browserMethod = `BROWSER`
)

type ctxKey int

const projectCtxKey ctxKey = iota

type webserver struct {
	st  *relayStore
	et  *client.Client
	mc  *client.Client
	lg  *log.KVLogger
	cfg *cfgType
}

func (ws *webserver) routes(lim *httpd.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Get(`/health`, httpd.HealthHandler(appName, version.GetVersion(), ws.healthExtra))

	// admin surface, server-side API key
	r.Group(func(r chi.Router) {
		r.Use(lim.Middleware)
		r.Use(httpd.APIKeyAuth(ws.cfg.AdminAPIKey))
		r.Use(httpd.BodyLimit(adminBodySize))
		r.Post(`/api/dsn-keys`, ws.handleCreateKey)
		r.Get(`/api/dsn-keys`, ws.handleListKeys)
		r.Delete(`/api/dsn-keys/{id}`, ws.handleDeactivateKey)
		r.Post(`/api/source-maps`, ws.handleUploadMap)
		r.Get(`/api/source-maps`, ws.handleListMaps)
		r.Delete(`/api/source-maps/{id}`, ws.handleDeleteMap)
	})

	// browser surface, public DSN key; a mounted subrouter so the CORS
	// middleware sees preflight OPTIONS before method matching rejects them
	r.Route(`/api/browser`, func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc: ws.allowOrigin,
			AllowedMethods:  []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders:  []string{httpd.HeaderBrowserKey, `Content-Type`},
			MaxAge:          corsMaxAge,
		}))
		r.Use(lim.Middleware)
		r.Use(ws.dsnAuth)
		r.Use(httpd.BodyLimit(int64(ws.cfg.MaxBodySize)))
		r.Post(`/errors`, ws.handleBrowserErrors)
		r.Post(`/metrics`, ws.handleBrowserMetrics)
	})
	return r
}

// allowOrigin is the exact, case-sensitive allowlist match. The stock
// AllowedOrigins matcher lowercases before comparing, which would admit
// origins the operator never listed.
func (ws *webserver) allowOrigin(r *http.Request, origin string) bool {
	for _, o := range ws.cfg.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// dsnAuth resolves the public browser key to its project and stashes it in
// the request context. Unknown and deactivated keys are indistinguishable to
// the caller.
func (ws *webserver) dsnAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(httpd.HeaderBrowserKey)
		if key == `` {
			httpd.WriteError(w, http.StatusUnauthorized, `missing DSN key`)
			return
		}
		project, err := ws.st.LookupActiveKey(key)
		if err != nil {
			ws.lg.Error("DSN key lookup failed", log.KVErr(err))
			httpd.WriteError(w, http.StatusInternalServerError, `failed to validate DSN key`)
			return
		}
		if project == `` {
			httpd.WriteError(w, http.StatusUnauthorized, `unknown or inactive DSN key`)
			return
		}
		ctx := context.WithValue(r.Context(), projectCtxKey, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func reqProject(r *http.Request) string {
	p, _ := r.Context().Value(projectCtxKey).(string)
	return p
}

type keyRequest struct {
	Project string `json:"project"`
}

func (ws *webserver) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := httpd.DecodeJSON(r, &req); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	if req.Project == `` {
		httpd.WriteError(w, http.StatusBadRequest, `project is required`)
		return
	}
	if len(req.Project) > maxProjectName {
		httpd.WriteError(w, http.StatusBadRequest, `project name too long`)
		return
	}
	k, err := ws.st.CreateKey(req.Project, time.Now())
	if err != nil {
		ws.lg.Error("failed to create DSN key", log.KV("project", req.Project), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to create DSN key`)
		return
	}
	ws.lg.Info("DSN key created", log.KV("project", k.Project), log.KV("id", k.ID))
	httpd.WriteJSON(w, http.StatusCreated, k)
}

func (ws *webserver) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := ws.st.ListKeys()
	if err != nil {
		ws.lg.Error("failed to list DSN keys", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to list DSN keys`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`keys`: keys})
}

func (ws *webserver) handleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	k, err := ws.st.DeactivateKey(id)
	if err != nil {
		if isNoRows(err) {
			httpd.WriteError(w, http.StatusNotFound, `DSN key not found`)
			return
		}
		ws.lg.Error("failed to deactivate DSN key", log.KV("id", id), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to deactivate DSN key`)
		return
	}
	ws.lg.Info("DSN key deactivated", log.KV("project", k.Project), log.KV("id", k.ID))
	httpd.WriteJSON(w, http.StatusOK, k)
}

type mapUpload struct {
	Project string          `json:"project"`
	Release string          `json:"release"`
	FileURL string          `json:"file_url"`
	Content json.RawMessage `json:"content"`
}

func (ws *webserver) handleUploadMap(w http.ResponseWriter, r *http.Request) {
	var req mapUpload
	if err := httpd.DecodeJSON(r, &req); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	if req.Project == `` || req.FileURL == `` {
		httpd.WriteError(w, http.StatusBadRequest, `project and file_url are required`)
		return
	}
	if len(req.Content) == 0 {
		httpd.WriteError(w, http.StatusBadRequest, `content is required`)
		return
	}
	if len(req.Content) > maxMapContent {
		httpd.WriteError(w, http.StatusBadRequest, `source map exceeds 5MB`)
		return
	}
	// decode up front so a bad upload fails loudly here instead of silently
	// never matching at rewrite time
	if _, err := sourcemap.Parse(req.Content); err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	fileURL := sourcemap.NormalizeURL(req.FileURL)
	meta, created, err := ws.st.UpsertMap(req.Project, req.Release, fileURL, req.Content, time.Now())
	if err != nil {
		ws.lg.Error("failed to store source map", log.KV("project", req.Project),
			log.KV("file", fileURL), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to store source map`)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	httpd.WriteJSON(w, code, meta)
}

func (ws *webserver) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := ws.st.ListMaps()
	if err != nil {
		ws.lg.Error("failed to list source maps", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to list source maps`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`maps`: maps})
}

func (ws *webserver) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := ws.st.DeleteMap(id); err != nil {
		if isNoRows(err) {
			httpd.WriteError(w, http.StatusNotFound, `source map not found`)
			return
		}
		ws.lg.Error("failed to delete source map", log.KV("id", id), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to delete source map`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`deleted`: id})
}

// browserError is what the browser SDK posts. The project never rides in
// the payload, it comes from the DSN key.
type browserError struct {
	ExceptionType string          `json:"exception_type"`
	Message       string          `json:"message"`
	Stack         string          `json:"stack"`
	URL           string          `json:"url,omitempty"`
	Release       string          `json:"release,omitempty"`
	Environment   string          `json:"environment,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	Extra         json.RawMessage `json:"extra,omitempty"`
}

func (ws *webserver) handleBrowserErrors(w http.ResponseWriter, r *http.Request) {
	var be browserError
	if err := httpd.DecodeJSON(r, &be); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	project := reqProject(r)
	stack := be.Stack
	if stack != `` {
		stack = sourcemap.RewriteStack(ws.st, project, be.Release, stack)
	}
	extra, err := mergeSessionExtra(be.Extra, be.SessionID)
	if err != nil {
		httpd.WriteError(w, http.StatusBadRequest, `extra must be a JSON object`)
		return
	}
	rep := dedup.Report{
		Project:       project,
		Environment:   be.Environment,
		ExceptionType: be.ExceptionType,
		Message:       be.Message,
		Traceback:     stack,
		RequestURL:    be.URL,
		RequestMethod: browserMethod,
		UserID:        be.UserID,
		Extra:         extra,
	}
	body, err := json.Marshal(rep)
	if err != nil {
		httpd.WriteError(w, http.StatusInternalServerError, `failed to encode report`)
		return
	}
	status, rb, err := ws.et.Post(r.Context(), `/api/errors`, body)
	if err != nil {
		ws.lg.Error("error tracker unreachable", log.KV("project", project), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `error tracker unreachable`)
		return
	}
	relayResponse(w, status, rb)
}

// browserMetrics is the browser SDK's metric submission: a batch of points
// plus the session context they were captured in.
type browserMetrics struct {
	SessionID string         `json:"session_id,omitempty"`
	URL       string         `json:"url,omitempty"`
	Metrics   []rollup.Point `json:"metrics"`
}

func (ws *webserver) handleBrowserMetrics(w http.ResponseWriter, r *http.Request) {
	var bm browserMetrics
	if err := httpd.DecodeJSON(r, &bm); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	if len(bm.Metrics) == 0 {
		httpd.WriteError(w, http.StatusBadRequest, `metrics batch is empty`)
		return
	}
	project := reqProject(r)
	page := pagePath(bm.URL)
	for i := range bm.Metrics {
		labels, err := enrichLabels(bm.Metrics[i].Labels, project, bm.SessionID, page)
		if err != nil {
			httpd.WriteError(w, http.StatusBadRequest, `labels must be a JSON object`)
			return
		}
		bm.Metrics[i].Labels = labels
	}
	body, err := json.Marshal(bm.Metrics)
	if err != nil {
		httpd.WriteError(w, http.StatusInternalServerError, `failed to encode metrics`)
		return
	}
	status, rb, err := ws.mc.Post(r.Context(), `/api/metrics`, body)
	if err != nil {
		ws.lg.Error("metrics collector unreachable", log.KV("project", project), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `metrics collector unreachable`)
		return
	}
	relayResponse(w, status, rb)
}

// relayResponse hands the downstream answer back verbatim, status and body.
func relayResponse(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(status)
	w.Write(body)
}

// mergeSessionExtra folds the session id into the caller's extra object so
// the error tracker can filter by it.
func mergeSessionExtra(extra json.RawMessage, sessionID string) (json.RawMessage, error) {
	m := map[string]interface{}{}
	if len(extra) > 0 && string(extra) != `null` {
		if err := json.Unmarshal(extra, &m); err != nil {
			return nil, err
		}
	}
	if sessionID != `` {
		m[`session_id`] = sessionID
	}
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// enrichLabels stamps the relay-derived labels onto a point, overriding
// whatever the client claimed for those keys.
func enrichLabels(labels json.RawMessage, project, sessionID, page string) (json.RawMessage, error) {
	m := map[string]interface{}{}
	if len(labels) > 0 && string(labels) != `null` {
		if err := json.Unmarshal(labels, &m); err != nil {
			return nil, err
		}
	}
	m[`project`] = project
	m[`source`] = `browser`
	if sessionID != `` {
		m[`session_id`] = sessionID
	}
	if page != `` {
		m[`page`] = page
	}
	return json.Marshal(m)
}

// pagePath reduces a captured page URL to its path component.
func pagePath(raw string) string {
	if raw == `` {
		return ``
	}
	if u, err := url.Parse(raw); err == nil && u.Path != `` {
		return u.Path
	}
	return raw
}

// healthExtra reports store counts plus concurrent reachability probes of
// both downstream services. A dead downstream degrades the report without
// flipping the overall status.
func (ws *webserver) healthExtra() map[string]interface{} {
	keys, maps := ws.st.counts()
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	etStatus, mcStatus := `ok`, `ok`
	var g errgroup.Group
	g.Go(func() error {
		if err := ws.et.Health(ctx); err != nil {
			etStatus = `unreachable`
		}
		return nil
	})
	g.Go(func() error {
		if err := ws.mc.Health(ctx); err != nil {
			mcStatus = `unreachable`
		}
		return nil
	})
	g.Wait()
	return map[string]interface{}{
		`active_keys`: keys,
		`source_maps`: maps,
		`downstreams`: map[string]string{
			`error_tracker`: etStatus,
			`metrics`:       mcStatus,
		},
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, `id`), 10, 64)
	if err != nil || id < 1 {
		httpd.WriteError(w, http.StatusBadRequest, `invalid id`)
		return 0, false
	}
	return id, true
}
