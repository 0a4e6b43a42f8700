/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package logproc

import (
	"regexp"
	"strings"
	"time"
)

// Entry is one reassembled log entry. Time and Stream come from the line
// that opened the entry; continuation lines only extend the message.
type Entry struct {
	Time    time.Time
	Stream  string
	Message string
}

var (
	dateStartRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	bracketStartRe = regexp.MustCompile(`^(?i)\[(DEBUG|INFO|WARN|WARNING|ERR|ERROR|CRIT|CRITICAL|FATAL)\]`)
	colonLevelRe   = regexp.MustCompile(`^(?i)(DEBUG|INFO|WARN|WARNING|ERR|ERROR|CRIT|CRITICAL|FATAL):`)
)

// isEntryStart reports whether a line opens a fresh entry: a leading
// date, a leading bracketed or colon-terminated level token, or a JSON
// object line.
func isEntryStart(line string) bool {
	if strings.HasPrefix(line, `{`) {
		return true
	}
	if dateStartRe.MatchString(line) {
		return true
	}
	if bracketStartRe.MatchString(line) {
		return true
	}
	return colonLevelRe.MatchString(line)
}

// isContinuation reports whether a line extends the entry before it: blank
// lines, indented lines, and the Python traceback forms.
func isContinuation(line string) bool {
	if line == `` {
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	return strings.HasPrefix(line, `Traceback (most recent call last):`) ||
		strings.HasPrefix(line, `File "`)
}

// Reassembler stitches multiline application output back into single
// entries. One instance serves one container; it is not safe for
// concurrent use.
type Reassembler struct {
	cur *Entry
}

// Feed consumes one decoded line. When the line closes the buffered entry
// by starting a new one, the finished entry is returned; otherwise nil.
func (r *Reassembler) Feed(dl DockerLine) (done *Entry) {
	if r.cur != nil && isContinuation(dl.Log) && !isEntryStart(dl.Log) {
		r.cur.Message += "\n" + dl.Log
		return
	}
	done = r.cur
	r.cur = &Entry{Time: dl.Time, Stream: dl.Stream, Message: dl.Log}
	return
}

// Flush returns the in-flight entry, if any, and resets the buffer. Called
// at the end of each poll batch.
func (r *Reassembler) Flush() (done *Entry) {
	done = r.cur
	r.cur = nil
	return
}
