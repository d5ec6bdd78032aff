package resolver

import (
	"fmt"
	"time"
)

const (
	transcriptionRatio = 1.5
	perItemOverhead    = 30 * time.Second
)

// EstimateDuration is an advisory guess of wall time to transcribe items.
// Items with unknown duration only contribute the fixed overhead.
func EstimateDuration(items []Item) time.Duration {
	var total int
	for _, it := range items {
		if it.HasDuration() {
			total += it.DurationSecs
		}
	}
	secs := int64(float64(total) * transcriptionRatio)
	return time.Duration(secs)*time.Second + time.Duration(len(items))*perItemOverhead
}

func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("~%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("~%dm", minutes)
	default:
		return "< 1m"
	}
}
