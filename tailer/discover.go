/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tailer

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/buger/jsonparser"
	"github.com/dchest/safefile"
)

// metaFile is the per-container metadata document the json-file log driver
// keeps next to the log itself.
const metaFile = `config.v2.json`

// normalizeContainer strips the leading slash Docker prepends to names.
func normalizeContainer(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), `/`)
}

// discoverRoots scans each root for container directories whose metadata
// names a wanted container, returning container name to log file path.
func discoverRoots(roots []string, want map[string]bool) map[string]string {
	found := make(map[string]string, len(want))
	for _, root := range roots {
		ents, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, ent := range ents {
			if !ent.IsDir() {
				continue
			}
			dir := filepath.Join(root, ent.Name())
			meta, err := os.ReadFile(filepath.Join(dir, metaFile))
			if err != nil {
				continue
			}
			name, err := jsonparser.GetString(meta, `Name`)
			if err != nil {
				continue
			}
			if name = normalizeContainer(name); !want[name] {
				continue
			}
			if _, ok := found[name]; ok {
				continue
			}
			logs, err := doublestar.FilepathGlob(filepath.Join(dir, `*-json.log`))
			if err != nil || len(logs) == 0 {
				continue
			}
			sort.Strings(logs)
			found[name] = logs[0]
		}
	}
	return found
}

// pathCache persists discovered container paths so a restart can resume
// tailing without waiting for a rescan. The cache is advisory: a missing or
// corrupt file just means rediscovery.
type pathCache struct {
	file string
}

func (pc pathCache) load() map[string]string {
	m := make(map[string]string)
	if pc.file == `` {
		return m
	}
	f, err := os.Open(pc.file)
	if err != nil {
		return m
	}
	defer f.Close()
	if err = gob.NewDecoder(f).Decode(&m); err != nil {
		return make(map[string]string)
	}
	return m
}

func (pc pathCache) store(m map[string]string) error {
	if pc.file == `` {
		return nil
	}
	f, err := safefile.Create(pc.file, 0660)
	if err != nil {
		return err
	}
	defer f.Close()
	if err = gob.NewEncoder(f).Encode(m); err != nil {
		return err
	}
	return f.Commit()
}
