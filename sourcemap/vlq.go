/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sourcemap

import (
	"errors"
	"fmt"
)

// VLQ values are base64 characters carrying 5 data bits each, bit 5 is the
// continuation flag, and the final assembled value is sign-magnitude with
// the sign in bit 0.
const (
	vlqBase64   = `ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/`
	vlqDataMask = 0x1f
	vlqContBit  = 0x20
	vlqMaxShift = 30
)

var (
	ErrVLQTruncated = errors.New("VLQ value truncated")
	ErrVLQOverflow  = errors.New("VLQ value overflows")

	vlqRev [256]int8
)

func init() {
	for i := range vlqRev {
		vlqRev[i] = -1
	}
	for i := 0; i < len(vlqBase64); i++ {
		vlqRev[vlqBase64[i]] = int8(i)
	}
}

// decodeVLQ decodes a single value from the front of s, returning the value
// and the number of bytes consumed.
func decodeVLQ(s string) (val, n int, err error) {
	var shift uint
	for n < len(s) {
		d := vlqRev[s[n]]
		if d < 0 {
			err = fmt.Errorf("invalid VLQ character %q", s[n])
			return
		}
		n++
		val |= (int(d) & vlqDataMask) << shift
		if int(d)&vlqContBit == 0 {
			if val&1 != 0 {
				val = -(val >> 1)
			} else {
				val >>= 1
			}
			return
		}
		if shift += 5; shift > vlqMaxShift {
			err = ErrVLQOverflow
			return
		}
	}
	err = ErrVLQTruncated
	return
}

// decodeVLQFields decodes every value in one comma-free mapping segment.
func decodeVLQFields(seg string) (vals []int, err error) {
	vals = make([]int, 0, 5)
	for len(seg) > 0 {
		var v, n int
		if v, n, err = decodeVLQ(seg); err != nil {
			return
		}
		vals = append(vals, v)
		seg = seg[n:]
	}
	return
}
