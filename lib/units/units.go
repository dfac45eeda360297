// Package units formats durations and byte counts for display.
package units

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatTimedelta renders d as days, hours and minutes ("2d 3h 5m").
// Minutes are always shown when no larger unit is present. Negative
// durations are treated as zero.
func FormatTimedelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

// FormatSeconds is FormatTimedelta for a duration expressed in seconds.
func FormatSeconds(seconds float64) string {
	return FormatTimedelta(time.Duration(seconds * float64(time.Second)))
}

var byteUnits = []string{"", "K", "M", "G", "T"}

// HumanBytes renders n with one decimal and a binary unit prefix ("1.5MB").
func HumanBytes(n float64) string {
	for _, unit := range byteUnits {
		if math.Abs(n) < 1024.0 {
			return fmt.Sprintf("%3.1f%sB", n, unit)
		}
		n /= 1024.0
	}
	return fmt.Sprintf("%.1fPB", n)
}
