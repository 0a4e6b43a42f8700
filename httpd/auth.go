/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

const (
	// HeaderAPIKey authenticates server-side callers on every service.
	HeaderAPIKey = `X-API-Key`

	// HeaderBrowserKey carries the public DSN key on the relay's browser
	// facing endpoints.
	HeaderBrowserKey = `X-Monlight-Key`
)

// KeysEqual compares two keys in constant time, hashing first so unequal
// lengths do not leak through timing.
func KeysEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// APIKeyAuth rejects any request whose X-API-Key header does not match key.
// Paths in exempt skip the check entirely, /health is always exempt.
func APIKeyAuth(key string, exempt ...string) func(http.Handler) http.Handler {
	ex := map[string]struct{}{
		`/health`: struct{}{},
	}
	for _, p := range exempt {
		ex[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ex[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if !KeysEqual(r.Header.Get(HeaderAPIKey), key) {
				WriteError(w, http.StatusUnauthorized, `invalid or missing API key`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
