/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package logproc turns raw container log files into clean, levelled log
// entries: it decodes the Docker json-file envelope, reassembles multiline
// output such as tracebacks into single entries, and extracts a severity
// level from whatever format the application happened to log in.
package logproc

import (
	"errors"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

// DockerLine is one decoded line of a json-file container log.
type DockerLine struct {
	Log    string
	Stream string
	Time   time.Time
}

var ErrNotDockerJSON = errors.New("line is not a docker json-file record")

// ParseDockerLine decodes the one-object-per-line envelope
// {"log":"<text>\n","stream":"stdout","time":"<rfc3339>"} that the Docker
// json-file driver writes. The trailing newline is stripped from the text.
// A missing or malformed time falls back to the zero time; the caller
// substitutes its own clock.
func ParseDockerLine(b []byte) (dl DockerLine, err error) {
	var text string
	if text, err = jsonparser.GetString(b, `log`); err != nil {
		err = ErrNotDockerJSON
		return
	}
	text = strings.TrimSuffix(text, "\n")
	dl.Log = strings.TrimSuffix(text, "\r")
	if dl.Stream, _ = jsonparser.GetString(b, `stream`); dl.Stream == `` {
		dl.Stream = `stdout`
	}
	if ts, tserr := jsonparser.GetString(b, `time`); tserr == nil {
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			dl.Time = t
		}
	}
	return
}
