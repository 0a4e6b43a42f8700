/*************************************************************************
 * Copyright 2026 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"errors"
	"os"
	"time"

	"github.com/inhies/go-bytesize"

	"github.com/monlight/monlight/config"
	"github.com/monlight/monlight/tailer"
)

const (
	defaultDatabasePath = `/opt/monlight/data/log_viewer.db`
	defaultLogSource    = `/var/lib/docker/containers`
	defaultMaxEntries   = int64(10000)
	defaultPollInterval = 2 * time.Second
)

type cfgType struct {
	APIKey       string
	DatabasePath string
	Containers   []string
	LogSources   []string
	MaxEntries   int64
	PollInterval time.Duration
	TailBuffer   bytesize.ByteSize
	LogLevel     string
}

type cfgReadType struct {
	Global cfgType
}

func getConfig() (*cfgType, error) {
	// optional INI layer; the environment fills whatever the file leaves
	// unset
	var fc cfgReadType
	cp := os.Getenv(`CONFIG_PATH`)
	if err := config.LoadConfigFile(&fc, cp); err != nil {
		return nil, err
	}
	if err := config.LoadConfigOverlays(&fc, cp); err != nil {
		return nil, err
	}
	c := fc.Global
	if err := config.LoadEnvVar(&c.APIKey, `API_KEY`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.DatabasePath, `DATABASE_PATH`, defaultDatabasePath); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.Containers, `CONTAINERS`, nil); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.LogSources, `LOG_SOURCES`, nil); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.MaxEntries, `MAX_ENTRIES`, defaultMaxEntries); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.PollInterval, `POLL_INTERVAL`, defaultPollInterval); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.TailBuffer, `TAIL_BUFFER`, bytesize.ByteSize(tailer.DefaultTailBuffer)); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.LogLevel, `LOG_LEVEL`, `INFO`); err != nil {
		return nil, err
	}
	if len(c.LogSources) == 0 {
		c.LogSources = []string{defaultLogSource}
	}
	return &c, c.Verify()
}

func (c *cfgType) Verify() error {
	if c.APIKey == `` {
		return errors.New("API_KEY is required")
	}
	if c.DatabasePath == `` {
		return errors.New("DATABASE_PATH cannot be empty")
	}
	if len(c.Containers) == 0 {
		return errors.New("CONTAINERS is required")
	}
	if c.MaxEntries < 1 {
		return errors.New("MAX_ENTRIES must be positive")
	}
	if c.PollInterval < time.Second {
		return errors.New("POLL_INTERVAL must be at least one second")
	}
	if c.TailBuffer <= 0 {
		return errors.New("TAIL_BUFFER must be positive")
	}
	return nil
}
