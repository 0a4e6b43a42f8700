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
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"

	"github.com/monlight/monlight/config"
)

const (
	defaultDatabasePath     = `/opt/monlight/data/relay.db`
	defaultErrorTrackerURL  = `http://localhost:5010`
	defaultMetricsURL       = `http://localhost:5012`
	defaultMaxBodySize      = bytesize.ByteSize(64 * 1024)
	defaultRateLimit        = int64(300)
	defaultMapRetentionDays = int64(90)

	maxCORSOrigins  = 32
	maxOriginLength = 256
)

type cfgType struct {
	AdminAPIKey     string
	DatabasePath    string
	ErrorTrackerURL string
	ErrorTrackerKey string
	MetricsURL      string
	MetricsKey      string
	CORSOrigins     []string
	MaxBodySize     bytesize.ByteSize
	RateLimit       int64
	RetentionDays   int64
	LogLevel        string
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
	if err := config.LoadEnvVar(&c.AdminAPIKey, `ADMIN_API_KEY`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.DatabasePath, `DATABASE_PATH`, defaultDatabasePath); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.ErrorTrackerURL, `ERROR_TRACKER_URL`, defaultErrorTrackerURL); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.ErrorTrackerKey, `ERROR_TRACKER_API_KEY`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.MetricsURL, `METRICS_COLLECTOR_URL`, defaultMetricsURL); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.MetricsKey, `METRICS_COLLECTOR_API_KEY`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.CORSOrigins, `CORS_ORIGINS`, nil); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.MaxBodySize, `MAX_BODY_SIZE`, defaultMaxBodySize); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.RateLimit, `RATE_LIMIT`, defaultRateLimit); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.RetentionDays, `RETENTION_DAYS`, defaultMapRetentionDays); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.LogLevel, `LOG_LEVEL`, `INFO`); err != nil {
		return nil, err
	}
	return &c, c.Verify()
}

func (c *cfgType) Verify() error {
	if c.AdminAPIKey == `` {
		return errors.New("ADMIN_API_KEY is required")
	}
	if c.DatabasePath == `` {
		return errors.New("DATABASE_PATH cannot be empty")
	}
	if c.ErrorTrackerURL == `` {
		return errors.New("ERROR_TRACKER_URL cannot be empty")
	}
	if c.MetricsURL == `` {
		return errors.New("METRICS_COLLECTOR_URL cannot be empty")
	}
	if len(c.CORSOrigins) > maxCORSOrigins {
		return fmt.Errorf("CORS_ORIGINS exceeds %d entries", maxCORSOrigins)
	}
	for _, o := range c.CORSOrigins {
		if len(o) > maxOriginLength {
			return fmt.Errorf("CORS origin %q exceeds %d characters", o[:32]+`...`, maxOriginLength)
		}
	}
	if c.MaxBodySize <= 0 {
		return errors.New("MAX_BODY_SIZE must be positive")
	}
	if c.RateLimit < 1 {
		return errors.New("RATE_LIMIT must be positive")
	}
	if c.RetentionDays < 1 {
		return errors.New("RETENTION_DAYS must be positive")
	}
	return nil
}
