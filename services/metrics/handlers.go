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
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/version"
)

const maxBatchSize = 1000

type webserver struct {
	st  *metricStore
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
		r.Post(`/api/metrics`, ws.handleIngest)
		r.Get(`/api/metrics`, ws.handleQuery)
		r.Get(`/api/metrics/names`, ws.handleNames)
		r.Get(`/api/dashboard`, ws.handleDashboard)
	})
	return r
}

// handleIngest lands a raw point batch. Aggregation is asynchronous, the
// batch is acknowledged with a 202 once the rows are durable.
func (ws *webserver) handleIngest(w http.ResponseWriter, r *http.Request) {
	var pts []rollup.Point
	if err := httpd.DecodeJSON(r, &pts); err != nil {
		httpd.WriteDecodeError(w, err)
		return
	}
	if len(pts) == 0 {
		httpd.WriteError(w, http.StatusBadRequest, `batch is empty`)
		return
	}
	if len(pts) > maxBatchSize {
		httpd.WriteError(w, http.StatusBadRequest, fmt.Sprintf(`batch exceeds %d points`, maxBatchSize))
		return
	}
	for i := range pts {
		if err := pts[i].Validate(); err != nil {
			httpd.WriteError(w, http.StatusBadRequest, fmt.Sprintf(`point %d: %v`, i, err))
			return
		}
	}
	if err := ws.st.InsertPoints(pts, time.Now()); err != nil {
		if err == rollup.ErrBadLabels {
			httpd.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		ws.lg.Error("failed to store metric batch", log.KV("points", len(pts)), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `failed to store metrics`)
		return
	}
	httpd.WriteJSON(w, http.StatusAccepted, map[string]interface{}{`accepted`: len(pts)})
}

type queryResponse struct {
	Name       string   `json:"name"`
	Period     string   `json:"period"`
	Resolution string   `json:"resolution"`
	Labels     *string  `json:"labels,omitempty"`
	Points     []AggRow `json:"points"`
}

func (ws *webserver) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get(`name`)
	if name == `` {
		httpd.WriteError(w, http.StatusBadRequest, `name is required`)
		return
	}
	period := q.Get(`period`)
	dur, err := rollup.ParsePeriod(period)
	if err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if period == `` {
		period = `24h`
	}
	res, err := rollup.PickResolution(q.Get(`resolution`), dur)
	if err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	labels, err := rollup.ParseLabelFilter(q.Get(`labels`))
	if err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	rows, err := ws.st.Query(name, res, labels, now.Add(-dur), now)
	if err != nil {
		ws.lg.Error("metric query failed", log.KV("name", name), log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `metric query failed`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, queryResponse{
		Name:       name,
		Period:     period,
		Resolution: res,
		Labels:     labels,
		Points:     rows,
	})
}

func (ws *webserver) handleNames(w http.ResponseWriter, r *http.Request) {
	names, err := ws.st.Names()
	if err != nil {
		ws.lg.Error("name listing failed", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `name listing failed`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{`names`: names})
}

func (ws *webserver) handleDashboard(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get(`period`)
	dur, err := rollup.ParsePeriod(period)
	if err != nil {
		httpd.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if period == `` {
		period = `24h`
	}
	now := time.Now()
	d, err := ws.st.Dashboard(period, now.Add(-dur), now)
	if err != nil {
		ws.lg.Error("dashboard query failed", log.KVErr(err))
		httpd.WriteError(w, http.StatusInternalServerError, `dashboard query failed`)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, d)
}
