// Package timeutil provides time formatting helpers for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the layout for local timestamps in table output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatLocal renders a timestamp in local time for table output.
func FormatLocal(t time.Time) string {
	return t.Local().Format(LocalTimeFormat)
}

// FormatTime parses an RFC3339 timestamp and renders it in local time.
// Returns the input unchanged if it does not parse.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return FormatLocal(t)
}

// FormatUptime re-renders a Go duration string (e.g. "72h30m15s") with day
// granularity, like "3d 0h 30m 15s". Returns the input unchanged if it does
// not parse.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
