/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats a byte count in SI units, for log lines about
// pages and snapshots.
func humanReadableSize[T ~int | ~int64](n T) string {
	bytes := int64(n)
	if bytes <= 0 {
		return "0 B"
	}

	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := unit, 0
	for rest := bytes / unit; rest >= unit; rest /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "kMGTPE"[exp])
}
