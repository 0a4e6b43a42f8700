/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package notify delivers best-effort alert notifications. Senders never
// block the request path for long and callers are expected to log and
// swallow failures.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Notifier is the alert sink. Implementations must be safe for concurrent
// use.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Discard drops every alert. Used when no alert transport is configured.
type Discard struct{}

func (Discard) Notify(ctx context.Context, subject, body string) error {
	return nil
}

const (
	postmarkEndpoint = `https://api.postmarkapp.com/email`
	requestTimeout   = 10 * time.Second

	// alert floods collapse to one mail per throttlePeriod after the burst
	throttlePeriod = 10 * time.Second
	throttleBurst  = 5
)

var ErrThrottled = errors.New("alert throttled")

// Postmark sends alerts as transactional email through the Postmark API.
type Postmark struct {
	token    string
	from     string
	to       string
	endpoint string
	cl       *http.Client
	lim      *rate.Limiter
}

func NewPostmark(token, from string, recipients []string) *Postmark {
	return &Postmark{
		token:    token,
		from:     from,
		to:       strings.Join(recipients, `,`),
		endpoint: postmarkEndpoint,
		cl:       &http.Client{Timeout: requestTimeout},
		lim:      rate.NewLimiter(rate.Every(throttlePeriod), throttleBurst),
	}
}

type postmarkMessage struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody"`
}

func (p *Postmark) Notify(ctx context.Context, subject, body string) error {
	if !p.lim.Allow() {
		return ErrThrottled
	}
	buf, err := json.Marshal(postmarkMessage{
		From:     p.from,
		To:       p.to,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set(`Accept`, `application/json`)
	req.Header.Set(`Content-Type`, `application/json`)
	req.Header.Set(`X-Postmark-Server-Token`, p.token)
	resp, err := p.cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("postmark status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
