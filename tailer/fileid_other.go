/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build !linux

package tailer

import "io/fs"

// fileID has no portable equivalent off Linux; without a stable identity
// rotation degrades to the truncation heuristic.
func fileID(fi fs.FileInfo) uint64 {
	return 0
}
