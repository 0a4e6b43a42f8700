/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Metrics Collector: raw point ingestion with tiered minute/hour rollups,
// percentile aggregation for histograms, and retention pruning.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/store"
	"github.com/monlight/monlight/utils"
	"github.com/monlight/monlight/version"
)

const (
	appName     = `metrics`
	servicePort = 5012

	rateLimit   = 200
	rateWindow  = time.Minute
	maxBodySize = 512 * 1024
)

var (
	ver         = flag.Bool("version", false, "Print the version information and exit")
	healthcheck = flag.Bool("healthcheck", false, "Probe the service health endpoint and exit")

	lg *log.KVLogger
)

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	if *healthcheck {
		if err := httpd.Healthcheck(servicePort); err != nil {
			fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	base := log.NewStderrLogger()
	base.SetAppname(appName)
	lg = log.NewLoggerWithKV(base, log.KV("service", appName))

	cfg, err := getConfig()
	if err != nil {
		lg.FatalCode(1, "invalid configuration", log.KVErr(err))
	}
	if err = base.SetLevelString(cfg.LogLevel); err != nil {
		lg.FatalCode(1, "invalid log level", log.KV("level", cfg.LogLevel), log.KVErr(err))
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		lg.FatalCode(2, "failed to open database", log.KV("path", cfg.DatabasePath), log.KVErr(err))
	}
	defer db.Close()
	if applied, err := db.Migrate(migrations); err != nil {
		lg.FatalCode(2, "failed to run migrations", log.KVErr(err))
	} else if applied > 0 {
		lg.Info("applied migrations", log.KV("count", applied))
	}

	ws := &webserver{st: &metricStore{db: db}, lg: lg, cfg: cfg}
	lim := httpd.NewLimiter(rateLimit, rateWindow, httpd.APIKeyOrAddr)
	defer lim.Stop()

	srv := httpd.NewServer(fmt.Sprintf(":%d", servicePort), ws.routes(lim), base)
	if err = srv.Start(); err != nil {
		lg.FatalCode(3, "failed to start webserver", log.KVErr(err))
	}
	lg.Info("metrics collector ready", log.KV("addr", srv.Addr()),
		log.KV("interval", cfg.aggregationInterval()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	aw := &aggWorker{st: ws.st, lg: lg, cfg: cfg}
	go aw.run(ctx, &wg)

	select {
	case <-utils.GetQuitChannel():
		lg.Info("received shutdown signal")
	case err = <-srv.Done():
		lg.Error("webserver died", log.KVErr(err))
	}
	cancel()
	wg.Wait()
	if err = srv.Shutdown(httpd.DefaultShutdownTimeout); err != nil {
		lg.Error("failed to shut down webserver", log.KVErr(err))
	}
	lg.Info("metrics collector exiting")
}
