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

	"github.com/monlight/monlight/config"
)

const (
	defaultDatabasePath = `/opt/monlight/data/metrics.db`

	// retention tiers: raw and minute in hours, hourly in days
	defaultRetentionRaw    = int64(1)
	defaultRetentionMinute = int64(24)
	defaultRetentionHourly = int64(30)

	// aggregation cadence in seconds
	defaultAggregationInterval = int64(60)
)

type cfgType struct {
	APIKey              string
	DatabasePath        string
	RetentionRaw        int64
	RetentionMinute     int64
	RetentionHourly     int64
	AggregationInterval int64
	LogLevel            string
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
	if err := config.LoadEnvVar(&c.RetentionRaw, `RETENTION_RAW`, defaultRetentionRaw); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.RetentionMinute, `RETENTION_MINUTE`, defaultRetentionMinute); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.RetentionHourly, `RETENTION_HOURLY`, defaultRetentionHourly); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.AggregationInterval, `AGGREGATION_INTERVAL`, defaultAggregationInterval); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.LogLevel, `LOG_LEVEL`, `INFO`); err != nil {
		return nil, err
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
	if c.RetentionRaw < 1 || c.RetentionMinute < 1 || c.RetentionHourly < 1 {
		return errors.New("retention windows must be positive")
	}
	if c.AggregationInterval < 1 {
		return errors.New("AGGREGATION_INTERVAL must be positive")
	}
	return nil
}

func (c *cfgType) aggregationInterval() time.Duration {
	return time.Duration(c.AggregationInterval) * time.Second
}
