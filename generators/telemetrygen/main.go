/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// telemetrygen floods a deployment with plausible traffic: error reports
// with parseable tracebacks drawn from a fixed shape pool (so dedup has
// something to chew on) and metric batches with known distributions.
// Useful for demos and for soaking retention workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/monlight/monlight/client"
	"github.com/monlight/monlight/utils"
)

const (
	modeErrors  = `errors`
	modeMetrics = `metrics`
	modeMixed   = `mixed`
)

var (
	errorsURL   = flag.String("errors-url", "http://localhost:5010", "Error tracker base URL")
	metricsURL  = flag.String("metrics-url", "http://localhost:5012", "Metrics collector base URL")
	apiKey      = flag.String("api-key", "", "API key presented to the target services")
	mode        = flag.String("mode", modeMixed, "What to generate: errors, metrics, or mixed")
	count       = flag.Int("entry-count", 100, "Number of submissions in one-shot mode")
	workers     = flag.Int("workers", 1, "Concurrent submission workers")
	batchSize   = flag.Int("batch-size", 25, "Points per metric submission")
	stream      = flag.Bool("stream", false, "Stream submissions at a fixed rate until interrupted")
	rate        = flag.Int("rate", 10, "Submissions per second in stream mode")
	project     = flag.String("project", "webapp", "Project name stamped on generated data")
	environment = flag.String("environment", "prod", "Environment stamped on error reports")
	shapes      = flag.Int("error-shapes", 24, "Distinct error locations in the generated pool")
	seed        = flag.Int64("seed", 0, "Random seed, zero derives one from the clock")

	reportsSent atomic.Int64
	created     atomic.Int64
	pointsSent  atomic.Int64
)

func main() {
	flag.Parse()
	if err := checkFlags(); err != nil {
		log.Fatal(err)
	}
	seedPools(*seed, *shapes)

	ec := client.New(*errorsURL, *apiKey)
	mc := client.New(*metricsURL, *apiKey)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-utils.GetQuitChannel()
		cancel()
	}()

	start := time.Now()
	jobs := make(chan int, *workers)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		return produce(ctx, jobs)
	})
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			return submit(ctx, jobs, ec, mc)
		})
	}
	if *stream {
		stop := startStatus()
		defer stop()
	}
	err := g.Wait()
	dur := time.Since(start)

	fmt.Printf("Completed in %v\n", dur)
	if n := reportsSent.Load(); n > 0 {
		fmt.Printf("Error reports: %d (%d new groups)\n", n, created.Load())
	}
	if n := pointsSent.Load(); n > 0 {
		fmt.Printf("Metric points accepted: %d\n", n)
	}
	total := reportsSent.Load() + pointsSent.Load()
	if secs := dur.Seconds(); secs > 0 && total > 0 {
		fmt.Printf("Rate: %.1f/s\n", float64(total)/secs)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("generator died: ", err)
	}
}

func checkFlags() error {
	switch *mode {
	case modeErrors, modeMetrics, modeMixed:
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
	if *count <= 0 && !*stream {
		return fmt.Errorf("invalid entry count %d", *count)
	}
	if *workers <= 0 {
		return fmt.Errorf("invalid worker count %d", *workers)
	}
	if *batchSize <= 0 || *batchSize > 1000 {
		return fmt.Errorf("batch size %d out of range (1-1000)", *batchSize)
	}
	if *rate <= 0 {
		return fmt.Errorf("invalid rate %d", *rate)
	}
	if *shapes <= 0 {
		return fmt.Errorf("invalid error shape count %d", *shapes)
	}
	if *project == `` {
		return fmt.Errorf("project cannot be empty")
	}
	return nil
}

// produce feeds submission slots to the workers: a fixed count in one-shot
// mode, a paced drip in stream mode.
func produce(ctx context.Context, jobs chan<- int) error {
	if !*stream {
		for i := 0; i < *count; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	tck := time.NewTicker(time.Second / time.Duration(*rate))
	defer tck.Stop()
	for i := 0; ; i++ {
		select {
		case <-tck.C:
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// submit drains the job channel. Mixed mode alternates by slot so the split
// stays even regardless of worker count.
func submit(ctx context.Context, jobs <-chan int, ec, mc *client.Client) error {
	for i := range jobs {
		sendError := *mode == modeErrors || (*mode == modeMixed && i%2 == 0)
		if sendError {
			res, err := ec.SubmitError(ctx, fakeReport(*project, *environment))
			if err != nil {
				return fmt.Errorf("error submission failed: %w", err)
			}
			reportsSent.Add(1)
			if res.Status == `created` {
				created.Add(1)
			}
		} else {
			accepted, err := mc.SubmitMetrics(ctx, fakeBatch(*project, *batchSize))
			if err != nil {
				return fmt.Errorf("metric submission failed: %w", err)
			}
			pointsSent.Add(int64(accepted))
		}
	}
	return nil
}

// startStatus prints a once-a-second progress line until stopped.
func startStatus() (stop func()) {
	done := make(chan struct{})
	go func() {
		tck := time.NewTicker(time.Second)
		defer tck.Stop()
		for {
			select {
			case <-tck.C:
				fmt.Printf("\rreports: %d  points: %d          ",
					reportsSent.Load(), pointsSent.Load())
			case <-done:
				fmt.Printf("\n")
				return
			}
		}
	}()
	return func() { close(done) }
}
