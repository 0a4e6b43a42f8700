/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var procStart = time.Now()

// HealthExtra lets a service attach its own stats to the health body.
type HealthExtra func() map[string]interface{}

// HealthHandler builds the GET /health endpoint: always 200 with
// {"status":"ok"} plus process stats and whatever extra reports.
func HealthHandler(service, version string, extra HealthExtra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			`status`:   `ok`,
			`service`:  service,
			`version`:  version,
			`uptime_s`: int64(time.Since(procStart) / time.Second),
		}
		if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
			if mi, err := p.MemoryInfo(); err == nil && mi != nil {
				body[`rss_bytes`] = mi.RSS
			}
		}
		if extra != nil {
			for k, v := range extra() {
				body[k] = v
			}
		}
		WriteJSON(w, http.StatusOK, body)
	}
}

// Healthcheck probes a locally bound service, the services call it when
// launched with the --healthcheck flag so containers can self-probe without
// shipping curl.
func Healthcheck(port uint16) error {
	cli := &http.Client{Timeout: 5 * time.Second}
	resp, err := cli.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
