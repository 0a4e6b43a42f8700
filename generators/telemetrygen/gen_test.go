/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"testing"

	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/stacktrace"
)

func TestFakeReportsParse(t *testing.T) {
	seedPools(1, 12)
	for i := 0; i < 100; i++ {
		rep := fakeReport(`webapp`, `prod`)
		if err := rep.Validate(); err != nil {
			t.Fatalf("report %d invalid: %v", i, err)
		}
		fp := rep.Fingerprint()
		if len(fp) != 32 {
			t.Fatalf("report %d fingerprint %q", i, fp)
		}
		// fabricated tracebacks must hit a real frame, not the whole-text
		// fallback, or dedup would never group anything
		if rep.RequestMethod == `BROWSER` {
			if _, ok := stacktrace.FirstJSFrame(rep.Traceback); !ok {
				t.Fatalf("unparseable JS stack: %q", rep.Traceback)
			}
		} else {
			if _, ok := stacktrace.LastPythonFrame(rep.Traceback); !ok {
				t.Fatalf("unparseable Python traceback: %q", rep.Traceback)
			}
		}
	}
}

func TestFakeReportsGroup(t *testing.T) {
	seedPools(7, 4)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		rep := fakeReport(`webapp`, `prod`)
		seen[rep.Fingerprint()] = true
	}
	// four shapes can produce at most four fingerprints
	if len(seen) > 4 {
		t.Fatalf("4 shapes produced %d fingerprints", len(seen))
	}
}

func TestFakeBatchValidates(t *testing.T) {
	seedPools(3, 12)
	pts := fakeBatch(`webapp`, 200)
	if len(pts) != 200 {
		t.Fatalf("batch size %d", len(pts))
	}
	vitals := 0
	for i := range pts {
		if err := pts[i].Validate(); err != nil {
			t.Fatalf("point %d invalid: %v", i, err)
		}
		if _, err := rollup.CanonicalLabels(pts[i].Labels); err != nil {
			t.Fatalf("point %d labels: %v", i, err)
		}
		if len(pts[i].Name) > 10 && pts[i].Name[:10] == `web_vitals` {
			vitals++
		}
	}
	if vitals == 0 {
		t.Fatal("no web vitals in a 200 point batch")
	}
}
