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

	"github.com/buger/jsonparser"
)

// Canonical severity levels stored with every entry.
const (
	LevelDebug    = `DEBUG`
	LevelInfo     = `INFO`
	LevelWarning  = `WARNING`
	LevelError    = `ERROR`
	LevelCritical = `CRITICAL`
)

var (
	bracketLevelRe = regexp.MustCompile(`(?i)\[(DEBUG|INFO|WARN|WARNING|ERR|ERROR|CRIT|CRITICAL|FATAL)\]`)
	kvLevelRe      = regexp.MustCompile(`(?i)\blevel=(DEBUG|INFO|WARN|WARNING|ERR|ERROR|CRIT|CRITICAL|FATAL)\b`)
)

// Level derives the severity of an entry from its message and stream. The
// probes run in order against the first line: a JSON level field, a
// bracketed [LEVEL] token anywhere, a level=VALUE pair, then a leading
// LEVEL: prefix (which also covers uvicorn's space padded form). When none
// match, stderr output defaults to ERROR and stdout to INFO.
func Level(message, stream string) string {
	line := message
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.HasPrefix(line, `{`) {
		if v, err := jsonparser.GetString([]byte(line), `level`); err == nil {
			if lv, ok := normalizeLevel(v); ok {
				return lv
			}
		}
	}
	if m := bracketLevelRe.FindStringSubmatch(line); m != nil {
		if lv, ok := normalizeLevel(m[1]); ok {
			return lv
		}
	}
	if m := kvLevelRe.FindStringSubmatch(line); m != nil {
		if lv, ok := normalizeLevel(m[1]); ok {
			return lv
		}
	}
	if m := colonLevelRe.FindStringSubmatch(line); m != nil {
		if lv, ok := normalizeLevel(m[1]); ok {
			return lv
		}
	}
	if stream == `stderr` {
		return LevelError
	}
	return LevelInfo
}

// CanonicalLevel folds a user supplied severity token onto the stored
// level set, WARN becomes WARNING, FATAL becomes CRITICAL, and so on.
func CanonicalLevel(tok string) (string, bool) {
	return normalizeLevel(tok)
}

func normalizeLevel(tok string) (string, bool) {
	switch strings.ToUpper(tok) {
	case `DEBUG`:
		return LevelDebug, true
	case `INFO`:
		return LevelInfo, true
	case `WARN`, `WARNING`:
		return LevelWarning, true
	case `ERR`, `ERROR`:
		return LevelError, true
	case `CRIT`, `CRITICAL`, `FATAL`:
		return LevelCritical, true
	}
	return ``, false
}
