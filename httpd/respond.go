/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrEmptyBody = errors.New("empty request body")
)

type errBody struct {
	Detail string `json:"detail"`
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set(`Content-Type`, `application/json`)
	w.WriteHeader(code)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError emits the error envelope every service shares.
func WriteError(w http.ResponseWriter, code int, detail string) {
	WriteJSON(w, code, errBody{Detail: detail})
}

// DecodeJSON decodes the request body into v, rejecting empty bodies.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// WriteDecodeError maps a DecodeJSON failure onto the right client error:
// 413 when the body limiter cut the read short, 400 otherwise.
func WriteDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		WriteError(w, http.StatusRequestEntityTooLarge, `request body too large`)
		return
	}
	if err == ErrEmptyBody {
		WriteError(w, http.StatusBadRequest, `request body is required`)
		return
	}
	WriteError(w, http.StatusBadRequest, `invalid JSON body`)
}

// RemoteAddr resolves the client address, honoring the first X-Forwarded-For
// entry when a proxy sits in front of us.
func RemoteAddr(r *http.Request) (host string) {
	xfflist, ok := r.Header[`X-Forwarded-For`]
	if !ok || len(xfflist) == 0 {
		host, _, _ = net.SplitHostPort(r.RemoteAddr)
		if host == `` {
			host = r.RemoteAddr
		}
	} else {
		host = strings.TrimSpace(strings.Split(xfflist[0], `,`)[0])
	}
	return
}
