/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sourcemap

import (
	"github.com/monlight/monlight/stacktrace"
)

// MapLookup fetches the stored map for a generated file, keyed by project
// and release. A miss returns (nil, nil) so the rewriter can tell "no map"
// from a storage failure; either way the frame is left alone.
type MapLookup interface {
	MapLookup(project, release, fileURL string) (*Map, error)
}

// RewriteStack maps every resolvable frame of a browser stack back to its
// original source position. The pass is best effort: frames without a
// stored map, with an undecodable map, or outside any mapping keep their
// minified location, and the rewritten stack is always returned.
func RewriteStack(lk MapLookup, project, release, stack string) string {
	lines := stacktrace.ParseStack(stack)
	maps := make(map[string]*Map, 2)
	for i := range lines {
		fr := lines[i].Frame
		if fr == nil {
			continue
		}
		fileURL := NormalizeURL(fr.File)
		m, seen := maps[fileURL]
		if !seen {
			m, _ = lk.MapLookup(project, release, fileURL)
			maps[fileURL] = m
		}
		if m == nil {
			continue
		}
		if src, ln, col, ok := m.OriginalPosition(fr.Line, fr.Column); ok {
			lines[i].Rewrite(src, ln, col)
		}
	}
	return stacktrace.RenderStack(lines)
}
