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
	"math/rand"

	"github.com/brianvoe/gofakeit"
	json "github.com/goccy/go-json"

	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/rollup"
)

// errorShape is one fabricated error location. Reports built from the same
// shape share a fingerprint, which is what gives the dedup engine real work.
type errorShape struct {
	exceptionType string
	message       string
	file          string
	line          int
	function      string
	js            bool
}

var (
	shapePool []errorShape
	pages     []string
	sessions  []string
	hosts     []string

	pyExceptions = []string{`ValueError`, `KeyError`, `TypeError`, `AttributeError`,
		`IndexError`, `ZeroDivisionError`, `ConnectionError`, `TimeoutError`}
	jsExceptions = []string{`TypeError`, `ReferenceError`, `RangeError`, `SyntaxError`}
	methods      = []string{`GET`, `GET`, `GET`, `POST`, `PUT`, `DELETE`}
	statuses     = []string{`200`, `200`, `200`, `201`, `400`, `404`, `500`}
	agents       = []string{
		`Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36`,
		`Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15`,
		`Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0`,
		`curl/8.5.0`,
	}
)

// seedPools builds the fixed pools everything else draws from. A zero seed
// picks an arbitrary one, a fixed seed reproduces the exact same traffic.
func seedPools(seed int64, shapeCount int) {
	gofakeit.Seed(seed)
	shapePool, pages, sessions, hosts = nil, nil, nil, nil
	for i := 0; i < shapeCount; i++ {
		// every third shape is a browser-side error
		js := i%3 == 2
		s := errorShape{
			message:  gofakeit.Sentence(5),
			line:     gofakeit.Number(10, 480),
			function: gofakeit.Word(),
			js:       js,
		}
		if js {
			s.exceptionType = jsExceptions[rand.Intn(len(jsExceptions))]
			s.file = fmt.Sprintf("https://cdn.%s/static/%s.min.js", gofakeit.DomainName(), gofakeit.Word())
		} else {
			s.exceptionType = pyExceptions[rand.Intn(len(pyExceptions))]
			s.file = fmt.Sprintf("/app/%s/%s.py", gofakeit.Word(), gofakeit.Word())
		}
		shapePool = append(shapePool, s)
	}
	for i := 0; i < 12; i++ {
		pages = append(pages, `/`+gofakeit.Word())
	}
	for i := 0; i < 32; i++ {
		sessions = append(sessions, fmt.Sprintf("sess-%08x", rand.Uint32()))
	}
	for i := 0; i < 6; i++ {
		hosts = append(hosts, fmt.Sprintf("%s-%02d", gofakeit.Word(), i))
	}
}

func fakeReport(project, environment string) dedup.Report {
	s := shapePool[rand.Intn(len(shapePool))]
	rep := dedup.Report{
		Project:       project,
		Environment:   environment,
		ExceptionType: s.exceptionType,
		Message:       s.message,
		UserID:        gofakeit.Username(),
	}
	if s.js {
		rep.Traceback = jsStack(s)
		rep.RequestMethod = `BROWSER`
		rep.RequestURL = `https://` + gofakeit.DomainName() + pickPage()
		rep.Extra, _ = json.Marshal(map[string]string{`session_id`: pickSession()})
	} else {
		rep.Traceback = pyTraceback(s)
		rep.RequestMethod = methods[rand.Intn(len(methods))]
		rep.RequestURL = `https://api.` + gofakeit.DomainName() + pickPage()
		rep.RequestHeaders, _ = json.Marshal(map[string]string{
			`User-Agent`: agents[rand.Intn(len(agents))],
			`Accept`:     `application/json`,
		})
	}
	return rep
}

// pyTraceback renders a two-frame Python traceback. The shape's location is
// the last File line, which is the one the fingerprinter keys on.
func pyTraceback(s errorShape) string {
	return fmt.Sprintf(`Traceback (most recent call last):
  File "/app/middleware.py", line 48, in dispatch
    response = handler(request)
  File "%s", line %d, in %s
    raise %s(%q)
%s: %s`, s.file, s.line, s.function, s.exceptionType, s.message, s.exceptionType, s.message)
}

// jsStack renders a Chrome-style stack. The shape's location is the first
// frame, which is the one the fingerprinter keys on.
func jsStack(s errorShape) string {
	return fmt.Sprintf("%s: %s\n    at %s (%s:%d:%d)\n    at dispatchEvent (%s:212:17)",
		s.exceptionType, s.message, s.function, s.file, s.line, 10+rand.Intn(120), s.file)
}

func fakeBatch(project string, n int) []rollup.Point {
	pts := make([]rollup.Point, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, fakePoint(project))
	}
	return pts
}

// fakePoint draws one metric: mostly server request telemetry, a steady
// trickle of browser Web-Vitals so the dashboard block lights up.
func fakePoint(project string) rollup.Point {
	switch rand.Intn(10) {
	case 0, 1, 2:
		return point(`http_request_duration_ms`, rollup.TypeHistogram, 5+rand.ExpFloat64()*45,
			map[string]interface{}{
				`project`: project,
				`method`:  methods[rand.Intn(len(methods))],
				`path`:    pickPage(),
				`status`:  statuses[rand.Intn(len(statuses))],
			})
	case 3, 4:
		return point(`http_requests_total`, rollup.TypeCounter, 1,
			map[string]interface{}{
				`project`: project,
				`method`:  methods[rand.Intn(len(methods))],
				`status`:  statuses[rand.Intn(len(statuses))],
			})
	case 5:
		return point(`db_query_duration_ms`, rollup.TypeHistogram, 1+rand.ExpFloat64()*12,
			map[string]interface{}{`project`: project, `host`: pickHost()})
	case 6:
		return point(`queue_depth`, rollup.TypeGauge, float64(rand.Intn(50)),
			map[string]interface{}{`project`: project, `host`: pickHost()})
	case 7:
		return point(`web_vitals_lcp`, rollup.TypeHistogram, 600+rand.ExpFloat64()*1500, vitalLabels(project))
	case 8:
		return point(`web_vitals_inp`, rollup.TypeHistogram, 40+rand.ExpFloat64()*160, vitalLabels(project))
	default:
		return point(`web_vitals_cls`, rollup.TypeHistogram, rand.Float64()*0.4, vitalLabels(project))
	}
}

func point(name, typ string, value float64, labels map[string]interface{}) rollup.Point {
	p := rollup.Point{
		Name:  name,
		Type:  typ,
		Value: value,
	}
	p.Labels, _ = json.Marshal(labels)
	return p
}

func vitalLabels(project string) map[string]interface{} {
	return map[string]interface{}{
		`project`:    project,
		`source`:     `browser`,
		`page`:       pickPage(),
		`session_id`: pickSession(),
	}
}

func pickPage() string {
	return pages[rand.Intn(len(pages))]
}

func pickSession() string {
	return sessions[rand.Intn(len(sessions))]
}

func pickHost() string {
	return hosts[rand.Intn(len(hosts))]
}
