package videotool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober measures the duration of a media file by invoking ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber constructs a Prober. An empty path defaults to "ffprobe" on PATH.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Duration returns the duration in seconds of the media file at path.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - path has already passed the path-safety gate
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("videotool: ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("videotool: ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("videotool: parse ffprobe duration: %w", err)
	}
	return duration, nil
}
