/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package stacktrace

import (
	"strings"
	"testing"
)

const pyTraceback = `Traceback (most recent call last):
  File "/app/main.py", line 12, in <module>
    run()
  File "/app/views.py", line 123, in handler
    return compute(x)
  File "/app/calc.py", line 45, in compute
    return 1 / x
ZeroDivisionError: division by zero`

const chromeStack = `TypeError: Cannot read properties of undefined (reading 'name')
    at renderUser (https://cdn.example.com/assets/app.min.js:1:4821)
    at https://cdn.example.com/assets/app.min.js:1:5000
    at HTMLButtonElement.onclick (https://example.com/:10:3)`

const firefoxStack = `renderUser@https://cdn.example.com/assets/app.min.js:1:4821
@https://cdn.example.com/assets/app.min.js:1:5000
onclick@https://example.com/:10:3`

func TestLastPythonFrame(t *testing.T) {
	f, ok := LastPythonFrame(pyTraceback)
	if !ok {
		t.Fatal("no frame parsed")
	}
	if f.File != `/app/calc.py` || f.Line != 45 {
		t.Fatalf("wrong frame: %+v", f)
	}
	if f.Column != 0 {
		t.Fatalf("python frames carry no column: %+v", f)
	}
	if _, ok = LastPythonFrame("no frames here"); ok {
		t.Fatal("parsed a frame from garbage")
	}
}

func TestLastPythonFrameSingle(t *testing.T) {
	tb := `  File "/srv/job.py", line 7, in run`
	f, ok := LastPythonFrame(tb)
	if !ok || f.File != `/srv/job.py` || f.Line != 7 {
		t.Fatalf("bad parse: %+v ok=%v", f, ok)
	}
}

func TestFirstJSFrameChrome(t *testing.T) {
	f, ok := FirstJSFrame(chromeStack)
	if !ok {
		t.Fatal("no frame parsed")
	}
	if f.File != `https://cdn.example.com/assets/app.min.js` {
		t.Fatalf("wrong file: %q", f.File)
	}
	if f.Line != 1 || f.Column != 4821 {
		t.Fatalf("wrong position: %+v", f)
	}
	if f.Function != `renderUser` {
		t.Fatalf("wrong function: %q", f.Function)
	}
}

func TestFirstJSFrameChromeAnonymous(t *testing.T) {
	f, ok := FirstJSFrame("    at https://site.test/app.js:10:5")
	if !ok {
		t.Fatal("no frame parsed")
	}
	if f.Function != `` || f.File != `https://site.test/app.js` || f.Line != 10 || f.Column != 5 {
		t.Fatalf("bad frame: %+v", f)
	}
}

func TestFirstJSFrameFirefox(t *testing.T) {
	f, ok := FirstJSFrame(firefoxStack)
	if !ok {
		t.Fatal("no frame parsed")
	}
	if f.Function != `renderUser` || f.Line != 1 || f.Column != 4821 {
		t.Fatalf("bad frame: %+v", f)
	}
	f, ok = FirstJSFrame("@https://site.test/app.js:3:9")
	if !ok || f.Function != `` || f.Line != 3 || f.Column != 9 {
		t.Fatalf("bad anonymous firefox frame: %+v ok=%v", f, ok)
	}
}

func TestFirstJSFrameSkipsMessage(t *testing.T) {
	// the error message line must not be treated as a frame
	f, ok := FirstJSFrame(chromeStack)
	if !ok || f.File == `TypeError` {
		t.Fatalf("message line leaked into frames: %+v", f)
	}
}

func TestParseStackRoundTrip(t *testing.T) {
	for _, stack := range []string{chromeStack, firefoxStack, pyTraceback} {
		lines := ParseStack(stack)
		if got := RenderStack(lines); got != stack {
			t.Fatalf("round trip changed stack:\n%s\n---\n%s", stack, got)
		}
	}
}

func TestParseStackFrameCount(t *testing.T) {
	lines := ParseStack(chromeStack)
	var n int
	for _, sl := range lines {
		if sl.Frame != nil {
			n++
		}
	}
	if n != 3 {
		t.Fatalf("expected 3 frames, got %d", n)
	}
	if lines[0].Frame != nil {
		t.Fatal("message line parsed as frame")
	}
}

func TestRewriteRender(t *testing.T) {
	lines := ParseStack(chromeStack)
	lines[1].Rewrite(`src/components/User.tsx`, 42, 17)
	out := RenderStack(lines)
	if !strings.Contains(out, "at renderUser (src/components/User.tsx:42:17)") {
		t.Fatalf("rewrite not rendered: %s", out)
	}
	// untouched lines survive verbatim
	if !strings.Contains(out, "at HTMLButtonElement.onclick (https://example.com/:10:3)") {
		t.Fatalf("untouched frame changed: %s", out)
	}
}

func TestRewriteFirefoxKeepsFormat(t *testing.T) {
	lines := ParseStack(firefoxStack)
	lines[0].Rewrite(`src/render.js`, 9, 2)
	out := RenderStack(lines)
	if !strings.Contains(out, "renderUser@src/render.js:9:2") {
		t.Fatalf("firefox format lost: %s", out)
	}
}

func TestRewriteNonFrameNoop(t *testing.T) {
	lines := ParseStack("just a message")
	lines[0].Rewrite(`x.js`, 1, 1)
	if got := RenderStack(lines); got != "just a message" {
		t.Fatalf("non-frame line mutated: %q", got)
	}
}
