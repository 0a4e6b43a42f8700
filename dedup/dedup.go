/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dedup computes the stable fingerprints that collapse repeated
// error reports into groups, and validates incoming reports before any
// state is touched.
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/monlight/monlight/stacktrace"
)

const (
	maxProject       = 100
	maxEnvironment   = 20
	maxExceptionType = 200

	DefaultEnvironment = `prod`
)

var (
	ErrMissingProject       = errors.New("project is required")
	ErrMissingExceptionType = errors.New("exception_type is required")
	ErrMissingMessage       = errors.New("message is required")
)

// Report is one error submission. Headers and Extra pass through as raw
// JSON so callers can attach arbitrary structured context.
type Report struct {
	Project        string          `json:"project"`
	Environment    string          `json:"environment"`
	ExceptionType  string          `json:"exception_type"`
	Message        string          `json:"message"`
	Traceback      string          `json:"traceback"`
	RequestURL     string          `json:"request_url,omitempty"`
	RequestMethod  string          `json:"request_method,omitempty"`
	RequestHeaders json.RawMessage `json:"request_headers,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// Validate checks required fields and size caps, defaulting the environment
// when empty. It must pass before a report reaches storage.
func (r *Report) Validate() error {
	if r.Project == `` {
		return ErrMissingProject
	} else if len(r.Project) > maxProject {
		return fmt.Errorf("project exceeds %d characters", maxProject)
	}
	if r.ExceptionType == `` {
		return ErrMissingExceptionType
	} else if len(r.ExceptionType) > maxExceptionType {
		return fmt.Errorf("exception_type exceeds %d characters", maxExceptionType)
	}
	if r.Message == `` {
		return ErrMissingMessage
	}
	if r.Environment == `` {
		r.Environment = DefaultEnvironment
	} else if len(r.Environment) > maxEnvironment {
		return fmt.Errorf("environment exceeds %d characters", maxEnvironment)
	}
	return nil
}

// Fingerprint returns the report's 32 character lowercase hex group key.
func (r *Report) Fingerprint() string {
	return Fingerprint(r.Project, r.ExceptionType, r.Traceback)
}

// Fingerprint hashes project, exception type, and the raising location into
// a stable group key. The location is the last Python style frame in the
// traceback, or failing that the first Chrome/Firefox style frame. Column
// numbers are excluded so minified bundles with shifting columns still
// collapse. When no frame parses at all the whole traceback stands in for
// the location, which keeps the hash deterministic.
func Fingerprint(project, exceptionType, traceback string) string {
	var loc string
	if f, ok := stacktrace.LastPythonFrame(traceback); ok {
		loc = f.File + `:` + strconv.Itoa(f.Line)
	} else if f, ok = stacktrace.FirstJSFrame(traceback); ok {
		loc = f.File + `:` + strconv.Itoa(f.Line)
	} else {
		loc = traceback
	}
	sum := md5.Sum([]byte(project + `:` + exceptionType + `:` + loc))
	return hex.EncodeToString(sum[:])
}
