/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Log Viewer: tails docker json-file logs for a fixed set of containers,
// reassembles multiline entries, indexes them for full text search, and
// serves query plus SSE live tail endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/store"
	"github.com/monlight/monlight/tailer"
	"github.com/monlight/monlight/utils"
	"github.com/monlight/monlight/version"
)

const (
	appName     = `logviewer`
	servicePort = 5011

	rateLimit   = 60
	rateWindow  = time.Minute
	maxBodySize = 64 * 1024

	pathCacheFile = `tailer_paths.cache`
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
	rdb, err := db.Reader(maxTailConns)
	if err != nil {
		lg.FatalCode(2, "failed to open reader pool", log.KVErr(err))
	}
	defer rdb.Close()

	st := &logStore{db: db}
	mgr, err := tailer.NewManager(tailer.Config{
		Roots:      cfg.LogSources,
		Containers: cfg.Containers,
		TailBuffer: int64(cfg.TailBuffer),
		CachePath:  filepath.Join(filepath.Dir(cfg.DatabasePath), pathCacheFile),
	}, lg)
	if err != nil {
		lg.FatalCode(2, "failed to start container tailer", log.KVErr(err))
	}
	defer mgr.Close()

	iw, err := newIngestWorker(st, mgr, lg, cfg.PollInterval, cfg.MaxEntries)
	if err != nil {
		lg.FatalCode(2, "failed to load cursors", log.KVErr(err))
	}

	ws := &webserver{st: st, rdb: rdb, lg: lg, cfg: cfg}
	lim := httpd.NewLimiter(rateLimit, rateWindow, httpd.APIKeyOrAddr)
	defer lim.Stop()

	srv := httpd.NewServer(fmt.Sprintf(":%d", servicePort), ws.routes(lim), base)
	if err = srv.Start(); err != nil {
		lg.FatalCode(3, "failed to start webserver", log.KVErr(err))
	}
	lg.Info("log viewer ready", log.KV("addr", srv.Addr()),
		log.KV("containers", len(cfg.Containers)), log.KV("maxentries", cfg.MaxEntries))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go iw.run(ctx, &wg)

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
	lg.Info("log viewer exiting")
}
