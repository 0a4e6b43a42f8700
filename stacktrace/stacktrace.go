/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package stacktrace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frame is one parsed stack location. Line and Column are 1-based as they
// appear in the trace, Column is zero when the format does not carry one.
type Frame struct {
	Function string
	File     string
	Line     int
	Column   int
}

type frameFormat int

const (
	formatNone frameFormat = iota
	formatChrome
	formatFirefox
)

var (
	// python:  File "/app/views.py", line 123, in handler
	pyFrameRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)

	// chrome:  at handler (https://site/app.js:10:5)
	//          at https://site/app.js:10:5
	chromeFrameRe = regexp.MustCompile(`^(\s*)at\s+(?:(.+?)\s+\()?(.+):(\d+):(\d+)\)?\s*$`)

	// firefox: handler@https://site/app.js:10:5
	//          @https://site/app.js:10:5
	firefoxFrameRe = regexp.MustCompile(`^(\s*)([^@\s]*)@(.+):(\d+):(\d+)\s*$`)
)

// LastPythonFrame returns the last `File "X", line N` location in a Python
// traceback, which is the innermost frame and the one that raised.
func LastPythonFrame(tb string) (f Frame, ok bool) {
	ms := pyFrameRe.FindAllStringSubmatch(tb, -1)
	if len(ms) == 0 {
		return
	}
	m := ms[len(ms)-1]
	ln, err := strconv.Atoi(m[2])
	if err != nil {
		return
	}
	f = Frame{File: m[1], Line: ln}
	ok = true
	return
}

// FirstJSFrame returns the first Chrome or Firefox style frame in a
// JavaScript stack, which is the innermost frame.
func FirstJSFrame(stack string) (f Frame, ok bool) {
	for _, ln := range strings.Split(stack, "\n") {
		var fmtKind frameFormat
		if f, fmtKind = parseJSLine(ln); fmtKind != formatNone {
			ok = true
			return
		}
	}
	return
}

func parseJSLine(ln string) (f Frame, kind frameFormat) {
	if m := chromeFrameRe.FindStringSubmatch(ln); m != nil {
		line, lerr := strconv.Atoi(m[4])
		col, cerr := strconv.Atoi(m[5])
		if lerr != nil || cerr != nil {
			return
		}
		f = Frame{Function: m[2], File: m[3], Line: line, Column: col}
		kind = formatChrome
		return
	}
	if m := firefoxFrameRe.FindStringSubmatch(ln); m != nil {
		line, lerr := strconv.Atoi(m[4])
		col, cerr := strconv.Atoi(m[5])
		if lerr != nil || cerr != nil {
			return
		}
		f = Frame{Function: m[2], File: m[3], Line: line, Column: col}
		kind = formatFirefox
		return
	}
	return
}

// StackLine is one line of a JavaScript stack string: either a parsed frame
// or opaque text passed through untouched.
type StackLine struct {
	Raw    string
	Frame  *Frame
	indent string
	kind   frameFormat
}

// ParseStack splits a JavaScript stack string into lines, parsing each frame
// line while keeping non-frame lines (the error message, blank lines) intact.
func ParseStack(stack string) (lines []StackLine) {
	for _, raw := range strings.Split(stack, "\n") {
		sl := StackLine{Raw: raw}
		if m := chromeFrameRe.FindStringSubmatch(raw); m != nil {
			if line, err := strconv.Atoi(m[4]); err == nil {
				if col, err := strconv.Atoi(m[5]); err == nil {
					sl.Frame = &Frame{Function: m[2], File: m[3], Line: line, Column: col}
					sl.indent = m[1]
					sl.kind = formatChrome
				}
			}
		} else if m := firefoxFrameRe.FindStringSubmatch(raw); m != nil {
			if line, err := strconv.Atoi(m[4]); err == nil {
				if col, err := strconv.Atoi(m[5]); err == nil {
					sl.Frame = &Frame{Function: m[2], File: m[3], Line: line, Column: col}
					sl.indent = m[1]
					sl.kind = formatFirefox
				}
			}
		}
		lines = append(lines, sl)
	}
	return
}

// Rewrite points the line's frame at a new location, keeping the original
// format when the line is re-rendered. Non-frame lines ignore the rewrite.
func (sl *StackLine) Rewrite(file string, line, col int) {
	if sl.Frame == nil {
		return
	}
	sl.Frame.File = file
	sl.Frame.Line = line
	sl.Frame.Column = col
}

// Render re-emits the line. Frame lines are rebuilt in their original
// Chrome or Firefox shape so a rewritten stack still reads like the input.
func (sl StackLine) Render() string {
	if sl.Frame == nil {
		return sl.Raw
	}
	f := sl.Frame
	switch sl.kind {
	case formatChrome:
		if f.Function != `` {
			return fmt.Sprintf("%sat %s (%s:%d:%d)", sl.indent, f.Function, f.File, f.Line, f.Column)
		}
		return fmt.Sprintf("%sat %s:%d:%d", sl.indent, f.File, f.Line, f.Column)
	case formatFirefox:
		return fmt.Sprintf("%s%s@%s:%d:%d", sl.indent, f.Function, f.File, f.Line, f.Column)
	}
	return sl.Raw
}

// RenderStack reassembles a full stack string from its lines.
func RenderStack(lines []StackLine) string {
	parts := make([]string, 0, len(lines))
	for _, sl := range lines {
		parts = append(parts, sl.Render())
	}
	return strings.Join(parts, "\n")
}
