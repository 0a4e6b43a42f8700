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
	"sync"
	"time"

	"github.com/monlight/monlight/log"
	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/utils"
)

// hour rollup and retention run on every hourCycles-th minute cycle
const hourCycles = 60

type aggWorker struct {
	st     *metricStore
	lg     *log.KVLogger
	cfg    *cfgType
	cycles int64
}

// run drives the rollup cadence: a minute rollup each interval, with the
// hour rollup and tiered retention folded in every 60th cycle. Failures are
// logged and the worker moves on, a rolled bucket is never revisited.
func (aw *aggWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if !utils.SleepContext(ctx, aw.cfg.aggregationInterval()) {
			return
		}
		aw.cycle(time.Now())
	}
}

func (aw *aggWorker) cycle(now time.Time) {
	bucket := rollup.PrevMinute(now)
	if groups, err := aw.st.RollupMinute(bucket); err != nil {
		aw.lg.Error("minute rollup failed", log.KV("bucket", formatTime(bucket)), log.KVErr(err))
	} else if groups > 0 {
		aw.lg.Debug("minute rollup complete", log.KV("bucket", formatTime(bucket)), log.KV("groups", groups))
	}
	aw.cycles++
	if aw.cycles%hourCycles != 0 {
		return
	}
	hb := rollup.PrevHour(now)
	if groups, err := aw.st.RollupHour(hb); err != nil {
		aw.lg.Error("hour rollup failed", log.KV("bucket", formatTime(hb)), log.KVErr(err))
	} else if groups > 0 {
		aw.lg.Debug("hour rollup complete", log.KV("bucket", formatTime(hb)), log.KV("groups", groups))
	}
	raw, minute, hour, err := aw.st.Retention(now, aw.cfg.RetentionRaw, aw.cfg.RetentionMinute, aw.cfg.RetentionHourly)
	if err != nil {
		aw.lg.Error("retention sweep failed", log.KVErr(err))
		return
	}
	if raw+minute+hour > 0 {
		aw.lg.Info("retention sweep complete",
			log.KV("raw", raw), log.KV("minute", minute), log.KV("hour", hour))
	}
}
