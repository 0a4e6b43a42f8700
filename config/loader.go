/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/gcfg.v1"
)

const (
	maxConfigSize int64 = 4 * 1024 * 1024 // This is a MASSIVE config file

	confExt = `.conf`
)

var (
	ErrConfigFileTooLarge = errors.New("Config file is too large")
	ErrInvalidPath        = errors.New("Invalid configuration path")
)

// LoadConfigFile reads the INI config file at p into the config object v.
// An empty path is not an error, the config object is left untouched so
// environment loading can take over.
func LoadConfigFile(v interface{}, p string) (err error) {
	if p == `` {
		return
	}
	var fi os.FileInfo
	if fi, err = os.Stat(p); err != nil {
		return
	} else if fi.Size() > maxConfigSize {
		return ErrConfigFileTooLarge
	}
	var bts []byte
	if bts, err = os.ReadFile(p); err != nil {
		return
	}
	if err = gcfg.ReadStringInto(v, string(bts)); err != nil {
		//attempt a fatal-only pass so unknown keys warn instead of kill
		err = gcfg.FatalOnly(gcfg.ReadStringInto(v, string(bts)))
	}
	return
}

// LoadConfigOverlays applies any overlay configs found in the `<p>.d`
// directory next to the base config, in lexical order. Only files carrying
// the .conf extension are considered.
func LoadConfigOverlays(v interface{}, p string) (err error) {
	if p == `` {
		return
	}
	dir := p + `.d`
	var fis []os.DirEntry
	if fis, err = os.ReadDir(dir); err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return
	}
	var overlays []string
	for _, fi := range fis {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), confExt) {
			continue
		}
		overlays = append(overlays, filepath.Join(dir, fi.Name()))
	}
	sort.Strings(overlays)
	for _, o := range overlays {
		if err = LoadConfigFile(v, o); err != nil {
			return
		}
	}
	return
}
