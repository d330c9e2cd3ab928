package videotool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanProgress_ParsesAndClampsPercent(t *testing.T) {
	stderr := "frame=10 fps=25 time=00:00:05.00 bitrate=100kbits/s\n" +
		"frame=20 fps=25 time=00:00:20.00 bitrate=100kbits/s\n"

	var percents []int
	scanProgress(strings.NewReader(stderr), 10, func(p int) { percents = append(percents, p) })

	assert.Equal(t, []int{50, 100}, percents)
}

func TestScanProgress_IgnoresLinesWithoutTime(t *testing.T) {
	stderr := "ffmpeg version 6.0\nConfiguration: --enable-gpl\n"

	var calls int
	scanProgress(strings.NewReader(stderr), 10, func(p int) { calls++ })

	assert.Equal(t, 0, calls)
}

func TestParseTimestamp(t *testing.T) {
	matches := progressPattern.FindStringSubmatch("time=01:02:03.50")
	assert.Equal(t, float64(3723.5), parseTimestamp(matches))
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/staging/job\:1/out.srt`, escapeFilterPath(`/staging/job:1/out.srt`))
}
