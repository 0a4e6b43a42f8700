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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
)

var (
	ErrInvalidDuration = errors.New("invalid duration")
)

// AppendDefaultPort will append the network port in defPort to the address
// in bstr, provided the address does not already contain a port.
// Thus, AppendDefaultPort("10.0.0.1", 5012) will return "10.0.0.1:5012",
// but AppendDefaultPort("10.0.0.1:5555", 5012) will return "10.0.0.1:5555".
func AppendDefaultPort(bstr string, defPort uint16) string {
	// first, try to parse as a plain IP
	if ip := net.ParseIP(bstr); ip != nil {
		return net.JoinHostPort(bstr, strconv.FormatUint(uint64(defPort), 10))
	}
	if _, _, err := net.SplitHostPort(bstr); err != nil {
		if aerr, ok := err.(*net.AddrError); ok && aerr.Err == "missing port in address" {
			return fmt.Sprintf("%s:%d", bstr, defPort)
		}
	}
	return bstr
}

// ParseBool attempts to parse the string v into a boolean. The following will
// return true:
//
//   - "true"
//   - "t"
//   - "yes"
//   - "y"
//   - "1"
//
// The following will return false:
//
//   - "false"
//   - "f"
//   - "no"
//   - "n"
//   - "0"
//
// All other values return an error.
func ParseBool(v string) (r bool, err error) {
	v = strings.ToLower(v)
	switch v {
	case `true`:
		fallthrough
	case `t`:
		fallthrough
	case `yes`:
		fallthrough
	case `y`:
		fallthrough
	case `1`:
		r = true
	case `false`:
	case `f`:
	case `0`:
	case `no`:
	case `n`:
	default:
		err = fmt.Errorf("Unknown boolean value")
	}
	return
}

// ParseUint64 will attempt to turn the given string into an unsigned 64-bit integer.
func ParseUint64(v string) (i uint64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseUint(v, 10, 64)
	}
	return
}

// ParseInt64 will attempt to turn the given string into a signed 64-bit integer.
func ParseInt64(v string) (i int64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseInt(v, 10, 64)
	}
	return
}

// ParseDuration turns a duration string into a time.Duration. Bare integers
// are taken as seconds, otherwise the numeric portion must carry one of the
// suffixes s, m, h, d, or w.
func ParseDuration(v string) (d time.Duration, err error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == `` {
		err = ErrInvalidDuration
		return
	}
	//bare integer means seconds
	if sec, lerr := strconv.ParseInt(v, 10, 64); lerr == nil {
		d = time.Duration(sec) * time.Second
		return
	}
	dursuffix := []struct {
		suf  string
		mult time.Duration
	}{
		{suf: `w`, mult: 7 * 24 * time.Hour},
		{suf: `d`, mult: 24 * time.Hour},
		{suf: `h`, mult: time.Hour},
		{suf: `m`, mult: time.Minute},
		{suf: `s`, mult: time.Second},
	}
	for _, ds := range dursuffix {
		if strings.HasSuffix(v, ds.suf) {
			var n int64
			if n, err = strconv.ParseInt(strings.TrimSuffix(v, ds.suf), 10, 64); err != nil {
				return
			}
			d = time.Duration(n) * ds.mult
			return
		}
	}
	err = ErrInvalidDuration
	return
}

// ParseSize turns a human friendly size string ("64KB", "5MB", "1048576")
// into a ByteSize.
func ParseSize(v string) (s bytesize.ByteSize, err error) {
	v = strings.TrimSpace(v)
	if v == `` {
		err = errors.New("empty size value")
		return
	}
	//bare integers are byte counts
	if n, lerr := strconv.ParseUint(v, 10, 64); lerr == nil {
		s = bytesize.New(float64(n))
		return
	}
	s, err = bytesize.Parse(v)
	return
}
