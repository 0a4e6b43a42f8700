/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
)

func TestFingerprintPython(t *testing.T) {
	tb := "Traceback (most recent call last):\n" +
		"  File \"/app/main.py\", line 12, in <module>\n" +
		"    run()\n" +
		"  File \"/a.py\", line 56, in f\n" +
		"    raise"
	got := Fingerprint(`p`, `ValueError`, tb)
	sum := md5.Sum([]byte(`p:ValueError:/a.py:56`))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("fingerprint mismatch: %s != %s", got, want)
	}
}

func TestFingerprintJSFirstFrame(t *testing.T) {
	stack := "TypeError: boom\n" +
		"    at render (https://cdn.test/app.js:1:4821)\n" +
		"    at https://cdn.test/app.js:1:9000"
	got := Fingerprint(`web`, `TypeError`, stack)
	sum := md5.Sum([]byte(`web:TypeError:https://cdn.test/app.js:1`))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("column must be excluded: %s != %s", got, want)
	}
	// a different column in the first frame still lands in the same group
	shifted := strings.Replace(stack, `:1:4821`, `:1:77`, 1)
	if Fingerprint(`web`, `TypeError`, shifted) != got {
		t.Fatal("column shift changed the fingerprint")
	}
}

func TestFingerprintFallbackWholeTraceback(t *testing.T) {
	got := Fingerprint(`p`, `Oops`, `nothing parseable here`)
	sum := md5.Sum([]byte(`p:Oops:nothing parseable here`))
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("fallback mismatch: %s != %s", got, want)
	}
	if Fingerprint(`p`, `Oops`, ``) == got {
		t.Fatal("distinct tracebacks collided")
	}
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint(`p`, `E`, ``)
	if len(fp) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(fp))
	}
	if fp != strings.ToLower(fp) {
		t.Fatal("fingerprint not lowercase")
	}
	if fp != Fingerprint(`p`, `E`, ``) {
		t.Fatal("fingerprint not deterministic")
	}
}

func TestFingerprintPythonWinsOverJS(t *testing.T) {
	tb := "  File \"/a.py\", line 3, in f\n" +
		"    at ignored (https://x.test/a.js:9:9)"
	sum := md5.Sum([]byte(`p:E:/a.py:3`))
	if got := Fingerprint(`p`, `E`, tb); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("python frame must take precedence: %s", got)
	}
}

func TestValidate(t *testing.T) {
	r := Report{Project: `p`, ExceptionType: `ValueError`, Message: `m`}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.Environment != DefaultEnvironment {
		t.Fatalf("environment not defaulted: %q", r.Environment)
	}
}

func TestValidateMissing(t *testing.T) {
	cases := []struct {
		r    Report
		want error
	}{
		{Report{ExceptionType: `E`, Message: `m`}, ErrMissingProject},
		{Report{Project: `p`, Message: `m`}, ErrMissingExceptionType},
		{Report{Project: `p`, ExceptionType: `E`}, ErrMissingMessage},
	}
	for i, c := range cases {
		if err := c.r.Validate(); err != c.want {
			t.Fatalf("case %d: got %v, want %v", i, err, c.want)
		}
	}
}

func TestValidateOversize(t *testing.T) {
	long := strings.Repeat(`x`, 201)
	cases := []Report{
		{Project: long[:101], ExceptionType: `E`, Message: `m`},
		{Project: `p`, ExceptionType: long, Message: `m`},
		{Project: `p`, ExceptionType: `E`, Message: `m`, Environment: long[:21]},
	}
	for i, r := range cases {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d: oversize field accepted", i)
		}
	}
	// exact caps are fine
	r := Report{Project: long[:100], ExceptionType: long[:200], Message: `m`, Environment: long[:20]}
	if err := r.Validate(); err != nil {
		t.Fatalf("exact cap rejected: %v", err)
	}
}
