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

	"github.com/monlight/monlight/config"
)

const (
	defaultDatabasePath  = `/opt/monlight/data/error_tracker.db`
	defaultRetentionDays = 90
)

type cfgType struct {
	APIKey        string
	DatabasePath  string
	RetentionDays int64
	PostmarkToken string
	PostmarkFrom  string
	AlertEmails   []string
	BaseURL       string
	LogLevel      string
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
	if err := config.LoadEnvVar(&c.RetentionDays, `RETENTION_DAYS`, int64(defaultRetentionDays)); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.PostmarkToken, `POSTMARK_API_TOKEN`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.PostmarkFrom, `POSTMARK_FROM_EMAIL`, ``); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.AlertEmails, `ALERT_EMAILS`, nil); err != nil {
		return nil, err
	}
	if err := config.LoadEnvVar(&c.BaseURL, `BASE_URL`, ``); err != nil {
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
	if c.RetentionDays <= 0 {
		return errors.New("RETENTION_DAYS must be positive")
	}
	if c.PostmarkToken != `` && (c.PostmarkFrom == `` || len(c.AlertEmails) == 0) {
		return errors.New("POSTMARK_FROM_EMAIL and ALERT_EMAILS are required when alerting is enabled")
	}
	return nil
}

// alertsEnabled reports whether the configuration carries a full alert
// transport.
func (c *cfgType) alertsEnabled() bool {
	return c.PostmarkToken != `` && c.PostmarkFrom != `` && len(c.AlertEmails) > 0
}
