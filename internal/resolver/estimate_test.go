package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateDuration(t *testing.T) {
	items := []Item{
		{DurationSecs: 600},
		{DurationSecs: 300},
		{},
	}
	// (900 * 1.5) + 3*30
	assert.Equal(t, 1440*time.Second, EstimateDuration(items))
	assert.Equal(t, time.Duration(0), EstimateDuration(nil))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "< 1m", FormatDuration(30*time.Second))
	assert.Equal(t, "~10m", FormatDuration(600*time.Second))
	assert.Equal(t, "~1h 30m", FormatDuration(5400*time.Second))
	assert.Equal(t, "~2h 0m", FormatDuration(2*time.Hour))
}
