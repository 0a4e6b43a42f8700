/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Browser Relay: validates public DSN keys, deobfuscates minified stack
// traces through stored source maps, and forwards browser telemetry to the
// error tracker and metrics collector with internal credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/monlight/monlight/client"
	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/store"
	"github.com/monlight/monlight/utils"
	"github.com/monlight/monlight/version"
)

const (
	appName     = `relay`
	servicePort = 5013

	rateWindow = time.Minute

	purgeTick = 24 * time.Hour
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

	ws := &webserver{
		st:  &relayStore{db: db},
		et:  client.New(cfg.ErrorTrackerURL, cfg.ErrorTrackerKey),
		mc:  client.New(cfg.MetricsURL, cfg.MetricsKey),
		lg:  lg,
		cfg: cfg,
	}
	// browser clients carry no API key, so the limiter buckets by address
	lim := httpd.NewLimiter(int(cfg.RateLimit), rateWindow, httpd.ClientAddr)
	defer lim.Stop()

	srv := httpd.NewServer(fmt.Sprintf(":%d", servicePort), ws.routes(lim), base)
	if err = srv.Start(); err != nil {
		lg.FatalCode(3, "failed to start webserver", log.KVErr(err))
	}
	lg.Info("browser relay ready", log.KV("addr", srv.Addr()),
		log.KV("errortracker", cfg.ErrorTrackerURL), log.KV("metrics", cfg.MetricsURL),
		log.KV("origins", len(cfg.CORSOrigins)))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go purgeWorker(ctx, &wg, ws.st, cfg.RetentionDays)

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
	lg.Info("browser relay exiting")
}

// purgeWorker drops source maps older than the retention window once per
// day. DSN keys are never aged out, deactivation is the only way they die.
func purgeWorker(ctx context.Context, wg *sync.WaitGroup, st *relayStore, days int64) {
	defer wg.Done()
	for {
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		if removed, err := st.PurgeMaps(cutoff); err != nil {
			lg.Error("source map purge failed", log.KVErr(err))
		} else if removed > 0 {
			lg.Info("purged stale source maps", log.KV("removed", removed))
		}
		if !utils.SleepContext(ctx, purgeTick) {
			return
		}
	}
}
