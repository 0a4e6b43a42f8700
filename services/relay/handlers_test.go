/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monlight/monlight/client"
	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/rollup"
)

const (
	testAdminKey = `admin-sekrit`
	testOrigin   = `https://shop.example.com`
)

// capture records the last request a fake downstream saw.
type capture struct {
	method string
	path   string
	apiKey string
	body   []byte
}

// captureServer plays a downstream service: it answers /health probes with
// 200 and everything else with the canned status and body, recording the
// request for assertions.
func captureServer(t *testing.T, status int, respBody string) (*httptest.Server, *capture) {
	t.Helper()
	rec := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == `/health` {
			httpd.WriteJSON(w, http.StatusOK, map[string]string{`status`: `ok`})
			return
		}
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.apiKey = r.Header.Get(`X-API-Key`)
		rec.body, _ = io.ReadAll(r.Body)
		w.Header().Set(`Content-Type`, `application/json`)
		w.WriteHeader(status)
		io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestServer(t *testing.T, etURL, mcURL string) (*webserver, *httptest.Server) {
	t.Helper()
	base := log.NewDiscardLogger()
	ws := &webserver{
		st: testRelayStore(t),
		et: client.New(etURL, `internal-et-key`),
		mc: client.New(mcURL, `internal-mc-key`),
		lg: log.NewLoggerWithKV(base),
		cfg: &cfgType{
			AdminAPIKey: testAdminKey,
			CORSOrigins: []string{testOrigin},
			MaxBodySize: 64 * 1024,
		},
	}
	lim := httpd.NewLimiter(300, time.Minute, httpd.ClientAddr)
	t.Cleanup(lim.Stop)
	srv := httptest.NewServer(ws.routes(lim))
	t.Cleanup(srv.Close)
	return ws, srv
}

func doAdmin(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	return doReq(t, method, url, `X-API-Key`, testAdminKey, body)
}

func doBrowser(t *testing.T, url, dsnKey string, body []byte) (int, []byte) {
	t.Helper()
	return doReq(t, http.MethodPost, url, `X-Monlight-Key`, dsnKey, body)
}

func doReq(t *testing.T, method, url, hdr, key string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if key != `` {
		req.Header.Set(hdr, key)
	}
	if body != nil {
		req.Header.Set(`Content-Type`, `application/json`)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, rb
}

// mintTestKey provisions an active DSN key through the admin API and hands
// back the public key string.
func mintTestKey(t *testing.T, srv *httptest.Server, project string) string {
	t.Helper()
	code, body := doAdmin(t, http.MethodPost, srv.URL+`/api/dsn-keys`, []byte(`{"project":"`+project+`"}`))
	if code != http.StatusCreated {
		t.Fatalf("key create code %d: %s", code, body)
	}
	var k DSNKey
	if err := json.Unmarshal(body, &k); err != nil {
		t.Fatal(err)
	}
	return k.Key
}

func TestKeyAdminEndpoints(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)

	code, body := doAdmin(t, http.MethodPost, srv.URL+`/api/dsn-keys`, []byte(`{"project":"webapp"}`))
	if code != http.StatusCreated {
		t.Fatalf("create code %d: %s", code, body)
	}
	var k DSNKey
	if err := json.Unmarshal(body, &k); err != nil {
		t.Fatal(err)
	}
	if len(k.Key) != 32 || !k.Active {
		t.Fatalf("created key %+v", k)
	}

	if code, body = doAdmin(t, http.MethodPost, srv.URL+`/api/dsn-keys`, []byte(`{}`)); code != http.StatusBadRequest {
		t.Fatalf("missing project code %d: %s", code, body)
	}

	code, body = doAdmin(t, http.MethodGet, srv.URL+`/api/dsn-keys`, nil)
	if code != http.StatusOK {
		t.Fatalf("list code %d: %s", code, body)
	}
	var list struct {
		Keys []DSNKey `json:"keys"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Keys) != 1 || list.Keys[0].Key != k.Key {
		t.Fatalf("list %+v", list.Keys)
	}

	code, body = doAdmin(t, http.MethodDelete, fmt.Sprintf("%s/api/dsn-keys/%d", srv.URL, k.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("delete code %d: %s", code, body)
	}
	var deact DSNKey
	if err := json.Unmarshal(body, &deact); err != nil {
		t.Fatal(err)
	}
	if deact.Active {
		t.Fatal("key still active after delete")
	}

	if code, _ = doAdmin(t, http.MethodDelete, srv.URL+`/api/dsn-keys/9999`, nil); code != http.StatusNotFound {
		t.Fatalf("missing key delete code %d", code)
	}

	// admin surface rejects bad keys
	if code, _ = doReq(t, http.MethodGet, srv.URL+`/api/dsn-keys`, `X-API-Key`, `wrong`, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad admin key code %d", code)
	}
	if code, _ = doReq(t, http.MethodGet, srv.URL+`/api/dsn-keys`, ``, ``, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing admin key code %d", code)
	}
}

func mapUploadBody(fileURL string) []byte {
	return []byte(`{"project":"webapp","release":"1.0.0","file_url":"` + fileURL + `","content":` + testMapContent + `}`)
}

func TestMapAdminEndpoints(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)

	code, body := doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`, mapUploadBody(`https://cdn.example.com/app.min.js`))
	if code != http.StatusCreated {
		t.Fatalf("upload code %d: %s", code, body)
	}
	var meta SourceMapMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.FileURL != `/app.min.js` {
		t.Fatalf("file_url not normalized: %q", meta.FileURL)
	}

	// same triple again replaces instead of duplicating
	code, body = doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`, mapUploadBody(`/app.min.js`))
	if code != http.StatusOK {
		t.Fatalf("re-upload code %d: %s", code, body)
	}
	var meta2 SourceMapMeta
	if err := json.Unmarshal(body, &meta2); err != nil {
		t.Fatal(err)
	}
	if meta2.ID != meta.ID {
		t.Fatalf("re-upload made a new row: %d vs %d", meta2.ID, meta.ID)
	}

	code, body = doAdmin(t, http.MethodGet, srv.URL+`/api/source-maps`, nil)
	if code != http.StatusOK {
		t.Fatalf("list code %d: %s", code, body)
	}
	var list struct {
		Maps []SourceMapMeta `json:"maps"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Maps) != 1 {
		t.Fatalf("list has %d maps, want 1", len(list.Maps))
	}

	// field validation
	if code, _ = doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`, []byte(`{"project":"webapp","content":{}}`)); code != http.StatusBadRequest {
		t.Fatalf("missing file_url code %d", code)
	}
	if code, body = doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`,
		[]byte(`{"project":"webapp","file_url":"/a.js","content":{"version":9}}`)); code != http.StatusBadRequest {
		t.Fatalf("bad map version code %d: %s", code, body)
	}
	pad := strings.Repeat(`x`, maxMapContent)
	oversize := []byte(`{"project":"webapp","file_url":"/big.js","content":{"version":3,"sources":[],"mappings":"","pad":"` + pad + `"}}`)
	if code, body = doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`, oversize); code != http.StatusBadRequest {
		t.Fatalf("oversize content code %d: %s", code, body)
	}

	if code, _ = doAdmin(t, http.MethodDelete, fmt.Sprintf("%s/api/source-maps/%d", srv.URL, meta.ID), nil); code != http.StatusOK {
		t.Fatalf("delete code %d", code)
	}
	if code, _ = doAdmin(t, http.MethodDelete, fmt.Sprintf("%s/api/source-maps/%d", srv.URL, meta.ID), nil); code != http.StatusNotFound {
		t.Fatalf("second delete code %d", code)
	}
}

func TestBrowserErrorForwarding(t *testing.T) {
	etResp := `{"id":7,"status":"created","fingerprint":"aaaabbbbccccddddeeeeffff00001111","count":1}`
	et, etCap := captureServer(t, http.StatusCreated, etResp)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)

	if code, body := doAdmin(t, http.MethodPost, srv.URL+`/api/source-maps`,
		mapUploadBody(`https://cdn.example.com/app.min.js`)); code != http.StatusCreated {
		t.Fatalf("map upload code %d: %s", code, body)
	}
	key := mintTestKey(t, srv, `webapp`)

	payload := []byte(`{
		"exception_type": "TypeError",
		"message": "x is undefined",
		"stack": "TypeError: x is undefined\n    at handleClick (https://cdn.example.com/app.min.js:1:15)",
		"url": "https://shop.example.com/checkout",
		"release": "1.0.0",
		"session_id": "sess-1",
		"extra": {"feature": "cart"}
	}`)
	code, body := doBrowser(t, srv.URL+`/api/browser/errors`, key, payload)
	if code != http.StatusCreated {
		t.Fatalf("browser error code %d: %s", code, body)
	}
	// downstream answer comes back verbatim
	if string(body) != etResp {
		t.Fatalf("response not relayed verbatim: %s", body)
	}

	if etCap.method != http.MethodPost || etCap.path != `/api/errors` {
		t.Fatalf("downstream saw %s %s", etCap.method, etCap.path)
	}
	if etCap.apiKey != `internal-et-key` {
		t.Fatalf("downstream saw API key %q", etCap.apiKey)
	}
	var rep dedup.Report
	if err := json.Unmarshal(etCap.body, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Project != `webapp` {
		t.Fatalf("forwarded project %q", rep.Project)
	}
	if rep.RequestMethod != `BROWSER` {
		t.Fatalf("forwarded method %q", rep.RequestMethod)
	}
	if rep.RequestURL != `https://shop.example.com/checkout` {
		t.Fatalf("forwarded url %q", rep.RequestURL)
	}
	if !strings.Contains(rep.Traceback, `src/app.js:2:9`) || strings.Contains(rep.Traceback, `app.min.js`) {
		t.Fatalf("stack not deobfuscated: %q", rep.Traceback)
	}
	var extra map[string]string
	if err := json.Unmarshal(rep.Extra, &extra); err != nil {
		t.Fatal(err)
	}
	if extra[`session_id`] != `sess-1` || extra[`feature`] != `cart` {
		t.Fatalf("extra %+v", extra)
	}
}

func TestBrowserErrorWithoutMapPassesThrough(t *testing.T) {
	et, etCap := captureServer(t, http.StatusCreated, `{"id":1,"status":"created","fingerprint":"f","count":1}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)
	key := mintTestKey(t, srv, `webapp`)

	stack := "Boom\n    at f (https://cdn.example.com/app.min.js:1:15)"
	payload, _ := json.Marshal(map[string]string{
		`exception_type`: `Error`,
		`message`:        `boom`,
		`stack`:          stack,
	})
	if code, body := doBrowser(t, srv.URL+`/api/browser/errors`, key, payload); code != http.StatusCreated {
		t.Fatalf("code %d: %s", code, body)
	}
	var rep dedup.Report
	if err := json.Unmarshal(etCap.body, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Traceback != stack {
		t.Fatalf("unmapped stack was altered: %q", rep.Traceback)
	}
	if len(rep.Extra) != 0 {
		t.Fatalf("extra fabricated from nothing: %s", rep.Extra)
	}
}

func TestBrowserAuth(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	ws, srv := newTestServer(t, et.URL, mc.URL)
	key := mintTestKey(t, srv, `webapp`)

	payload := []byte(`{"exception_type":"Error","message":"boom"}`)
	if code, _ := doBrowser(t, srv.URL+`/api/browser/errors`, ``, payload); code != http.StatusUnauthorized {
		t.Fatalf("missing key code %d", code)
	}
	if code, _ := doBrowser(t, srv.URL+`/api/browser/errors`, `ffffffffffffffffffffffffffffffff`, payload); code != http.StatusUnauthorized {
		t.Fatalf("unknown key code %d", code)
	}

	// deactivated keys stop working immediately
	keys, err := ws.st.ListKeys()
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ws.st.DeactivateKey(keys[0].ID); err != nil {
		t.Fatal(err)
	}
	if code, _ := doBrowser(t, srv.URL+`/api/browser/errors`, key, payload); code != http.StatusUnauthorized {
		t.Fatalf("deactivated key code %d", code)
	}
}

func TestBrowserMetricsForwarding(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, mcCap := captureServer(t, http.StatusAccepted, `{"accepted":2}`)
	_, srv := newTestServer(t, et.URL, mc.URL)
	key := mintTestKey(t, srv, `webapp`)

	payload := []byte(`{
		"session_id": "sess-9",
		"url": "https://shop.example.com/checkout?step=2",
		"metrics": [
			{"name": "web_vitals_lcp", "type": "histogram", "value": 1500, "labels": {"project": "spoofed", "element": "img"}},
			{"name": "web_vitals_cls", "type": "histogram", "value": 0.05}
		]
	}`)
	code, body := doBrowser(t, srv.URL+`/api/browser/metrics`, key, payload)
	if code != http.StatusAccepted {
		t.Fatalf("browser metrics code %d: %s", code, body)
	}
	if string(body) != `{"accepted":2}` {
		t.Fatalf("response not relayed verbatim: %s", body)
	}

	if mcCap.path != `/api/metrics` || mcCap.apiKey != `internal-mc-key` {
		t.Fatalf("downstream saw %s with key %q", mcCap.path, mcCap.apiKey)
	}
	var pts []rollup.Point
	if err := json.Unmarshal(mcCap.body, &pts); err != nil {
		t.Fatal(err)
	}
	if len(pts) != 2 {
		t.Fatalf("forwarded %d points", len(pts))
	}
	for i, p := range pts {
		var labels map[string]string
		if err := json.Unmarshal(p.Labels, &labels); err != nil {
			t.Fatalf("point %d labels: %v", i, err)
		}
		if labels[`project`] != `webapp` {
			t.Fatalf("point %d project %q not stamped over client value", i, labels[`project`])
		}
		if labels[`source`] != `browser` || labels[`session_id`] != `sess-9` || labels[`page`] != `/checkout` {
			t.Fatalf("point %d labels %+v", i, labels)
		}
	}
	// client-supplied labels outside the reserved keys survive
	var first map[string]string
	json.Unmarshal(pts[0].Labels, &first)
	if first[`element`] != `img` {
		t.Fatalf("custom label lost: %+v", first)
	}

	if code, _ = doBrowser(t, srv.URL+`/api/browser/metrics`, key, []byte(`{"metrics":[]}`)); code != http.StatusBadRequest {
		t.Fatalf("empty batch code %d", code)
	}
	bad := []byte(`{"metrics":[{"name":"m","type":"gauge","value":1,"labels":["x"]}]}`)
	if code, _ = doBrowser(t, srv.URL+`/api/browser/metrics`, key, bad); code != http.StatusBadRequest {
		t.Fatalf("bad labels code %d", code)
	}
}

func TestBrowserBodyCap(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)
	key := mintTestKey(t, srv, `webapp`)

	huge := []byte(`{"exception_type":"Error","message":"` + strings.Repeat(`x`, 64*1024) + `"}`)
	if code, _ := doBrowser(t, srv.URL+`/api/browser/errors`, key, huge); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize body code %d", code)
	}
}

func TestDownstreamUnreachable(t *testing.T) {
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	// nothing listens on the error tracker address
	_, srv := newTestServer(t, `http://127.0.0.1:1`, mc.URL)
	key := mintTestKey(t, srv, `webapp`)

	payload := []byte(`{"exception_type":"Error","message":"boom"}`)
	code, body := doBrowser(t, srv.URL+`/api/browser/errors`, key, payload)
	if code != http.StatusInternalServerError {
		t.Fatalf("unreachable downstream code %d: %s", code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	mc, _ := captureServer(t, http.StatusAccepted, `{}`)
	_, srv := newTestServer(t, et.URL, mc.URL)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+`/api/browser/errors`, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set(`Origin`, origin)
		req.Header.Set(`Access-Control-Request-Method`, http.MethodPost)
		req.Header.Set(`Access-Control-Request-Headers`, `X-Monlight-Key, Content-Type`)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	resp := preflight(testOrigin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preflight code %d", resp.StatusCode)
	}
	if got := resp.Header.Get(`Access-Control-Allow-Origin`); got != testOrigin {
		t.Fatalf("allow-origin %q", got)
	}
	if got := resp.Header.Get(`Access-Control-Allow-Methods`); got != http.MethodPost {
		t.Fatalf("allow-methods %q", got)
	}
	if got := resp.Header.Get(`Access-Control-Max-Age`); got != `86400` {
		t.Fatalf("max-age %q", got)
	}

	// matching is exact and case sensitive
	for _, origin := range []string{`https://evil.example.com`, `HTTPS://SHOP.EXAMPLE.COM`} {
		resp = preflight(origin)
		if got := resp.Header.Get(`Access-Control-Allow-Origin`); got != `` {
			t.Fatalf("origin %q was allowed: %q", origin, got)
		}
	}
}

func TestHealthDownstreams(t *testing.T) {
	et, _ := captureServer(t, http.StatusCreated, `{}`)
	// metrics collector is down
	ws, srv := newTestServer(t, et.URL, `http://127.0.0.1:1`)
	mintTestKey(t, srv, `webapp`)
	if _, _, err := ws.st.UpsertMap(`webapp`, `1.0.0`, `/a.js`, []byte(testMapContent), testBase); err != nil {
		t.Fatal(err)
	}

	code, body := doReq(t, http.MethodGet, srv.URL+`/health`, ``, ``, nil)
	if code != http.StatusOK {
		t.Fatalf("health code %d: %s", code, body)
	}
	var h struct {
		Status      string            `json:"status"`
		ActiveKeys  int64             `json:"active_keys"`
		SourceMaps  int64             `json:"source_maps"`
		Downstreams map[string]string `json:"downstreams"`
	}
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatal(err)
	}
	if h.Status != `ok` {
		t.Fatalf("status %q", h.Status)
	}
	if h.ActiveKeys != 1 || h.SourceMaps != 1 {
		t.Fatalf("counts keys=%d maps=%d", h.ActiveKeys, h.SourceMaps)
	}
	if h.Downstreams[`error_tracker`] != `ok` || h.Downstreams[`metrics`] != `unreachable` {
		t.Fatalf("downstreams %+v", h.Downstreams)
	}
}
