/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package client is the Go SDK for the telemetry services: typed helpers
// for submitting error reports and metric batches, plus the raw passthrough
// the browser relay uses to forward requests verbatim.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/monlight/monlight/dedup"
	"github.com/monlight/monlight/httpd"
	"github.com/monlight/monlight/rollup"
	"github.com/monlight/monlight/version"
)

const (
	defaultTimeout = 15 * time.Second

	// response bodies are small JSON documents; anything bigger is junk
	maxResponseBody = 1 << 20
)

// Client talks to one service instance.
type Client struct {
	baseURL string
	key     string
	cl      *http.Client
	ua      string
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, `/`),
		key:     apiKey,
		cl:      &http.Client{Timeout: defaultTimeout},
		ua:      `monlight-client/` + version.GetVersion(),
	}
}

// Post sends a JSON body and returns the downstream status and body
// verbatim. No status is treated as an error; the caller decides.
func (c *Client) Post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(`Content-Type`, `application/json`)
	req.Header.Set(`User-Agent`, c.ua)
	if c.key != `` {
		req.Header.Set(httpd.HeaderAPIKey, c.key)
	}
	resp, err := c.cl.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, rb, nil
}

// IngestResult is the error tracker's answer to a report submission.
type IngestResult struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
	Count       int64  `json:"count"`
}

// SubmitError reports one error to the error tracker.
func (c *Client) SubmitError(ctx context.Context, rep dedup.Report) (res IngestResult, err error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return
	}
	status, rb, err := c.Post(ctx, `/api/errors`, body)
	if err != nil {
		return
	}
	if status != http.StatusOK && status != http.StatusCreated {
		err = statusError(status, rb)
		return
	}
	err = json.Unmarshal(rb, &res)
	return
}

// SubmitMetrics ships a batch of points to the metrics collector and
// returns the accepted count.
func (c *Client) SubmitMetrics(ctx context.Context, pts []rollup.Point) (int, error) {
	body, err := json.Marshal(pts)
	if err != nil {
		return 0, err
	}
	status, rb, err := c.Post(ctx, `/api/metrics`, body)
	if err != nil {
		return 0, err
	}
	if status != http.StatusAccepted {
		return 0, statusError(status, rb)
	}
	var res struct {
		Accepted int `json:"accepted"`
	}
	if err = json.Unmarshal(rb, &res); err != nil {
		return 0, err
	}
	return res.Accepted, nil
}

// Health probes the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+`/health`, nil)
	if err != nil {
		return err
	}
	req.Header.Set(`User-Agent`, c.ua)
	resp, err := c.cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var eb struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &eb) == nil && eb.Detail != `` {
		return fmt.Errorf("status %d: %s", status, eb.Detail)
	}
	return fmt.Errorf("status %d", status)
}
