// Package videotool builds argv for the external video toolchain binary
// and parses its textual progress output. It owns no filter-graph or
// AI-routing logic of its own (those are components C and D); it is the
// only place that spawns the child process (spec §9, pure-vs-effectful
// separation).
package videotool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/mediaqueue/internal/filtergraph"
)

// ProgressFunc receives 0..100 as progress is parsed from the toolchain's
// stderr stream. It may be called many times and must not block.
type ProgressFunc func(percent int)

// Runner is the capability the job processors depend on.
type Runner interface {
	BurnSubtitles(ctx context.Context, opts BurnOptions, onProgress ProgressFunc) error
	Export(ctx context.Context, opts ExportOptions, onProgress ProgressFunc) error
}

// BurnOptions configures a single-input subtitle burn.
type BurnOptions struct {
	InputPath     string
	SubtitlePath  string
	OutputPath    string
	TotalDuration float64 // seconds, from Prober.Duration(InputPath)
}

// ExportOptions configures a multi-clip timeline export.
type ExportOptions struct {
	Inputs        []filtergraph.Input
	Graph         filtergraph.Graph
	SubtitlePath  string
	OutputPath    string
	TotalDuration float64 // seconds, the full timeline duration
}

// FFmpegRunner is the production Runner, shelling out to the ffmpeg binary.
type FFmpegRunner struct {
	ffmpegPath string
}

// NewFFmpegRunner constructs a FFmpegRunner. An empty path defaults to
// "ffmpeg" on PATH.
func NewFFmpegRunner(ffmpegPath string) *FFmpegRunner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegRunner{ffmpegPath: ffmpegPath}
}

var _ Runner = (*FFmpegRunner)(nil)

// BurnSubtitles invokes ffmpeg directly against a single input, the
// pre-computed subtitle file, and the output path.
func (r *FFmpegRunner) BurnSubtitles(ctx context.Context, opts BurnOptions, onProgress ProgressFunc) error {
	filter := fmt.Sprintf("subtitles=%s", escapeFilterPath(opts.SubtitlePath))
	args := []string{
		"-y",
		"-i", opts.InputPath,
		"-vf", filter,
		"-c:a", "copy",
		opts.OutputPath,
	}
	return r.run(ctx, args, opts.TotalDuration, onProgress)
}

// Export assembles the filter-complex from the supplied Graph. When
// SubtitlePath is set it appends a subtitle-burn stage consuming [vconcat]
// and producing [vfinal], and maps [vfinal]+[aconcat] to the output;
// otherwise it maps [vconcat]+[aconcat] directly.
func (r *FFmpegRunner) Export(ctx context.Context, opts ExportOptions, onProgress ProgressFunc) error {
	args := []string{"-y"}
	for _, in := range opts.Inputs {
		if in.Kind == filtergraph.InputImage {
			args = append(args, "-loop", "1")
		}
		args = append(args, "-i", in.Path)
	}

	filterComplex := opts.Graph.FilterComplex
	finalVideoLabel := opts.Graph.VideoLabel
	if opts.SubtitlePath != "" {
		filterComplex += fmt.Sprintf(";%s subtitles=%s [vfinal]", opts.Graph.VideoLabel, escapeFilterPath(opts.SubtitlePath))
		finalVideoLabel = "[vfinal]"
	}

	args = append(args,
		"-filter_complex", filterComplex,
		"-map", finalVideoLabel,
		"-map", opts.Graph.AudioLabel,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		opts.OutputPath,
	)
	return r.run(ctx, args, opts.TotalDuration, onProgress)
}

func (r *FFmpegRunner) run(ctx context.Context, args []string, totalDuration float64, onProgress ProgressFunc) error {
	// #nosec G204 - args are built internally from already-gated paths
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("videotool: attach stderr: %w", err)
	}

	var stderrBuf bytes.Buffer
	tee := io.TeeReader(stderrPipe, &stderrBuf)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("videotool: start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanProgress(tee, totalDuration, onProgress)
	}()

	err = cmd.Wait()
	<-done

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("videotool: ffmpeg cancelled: %w", ctx.Err())
		}
		return &Error{Args: args, Stderr: stderrBuf.String(), Err: err}
	}
	return nil
}

// Error wraps a non-zero ffmpeg exit, preserving the argv and captured
// stderr as the error text (spec §6, child-process contract).
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("videotool: ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

var progressPattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)

// scanProgress reads ffmpeg's stderr line by line, extracting time=HH:MM:SS.CC
// occurrences and reporting elapsed/totalDuration*100, clamped to [0,100].
func scanProgress(r io.Reader, totalDuration float64, onProgress ProgressFunc) {
	if onProgress == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		matches := progressPattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		elapsed := parseTimestamp(matches)
		if totalDuration <= 0 {
			continue
		}
		pct := int(elapsed / totalDuration * 100)
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		onProgress(pct)
	}
}

func parseTimestamp(matches []string) float64 {
	h, _ := strconv.ParseFloat(matches[1], 64)
	m, _ := strconv.ParseFloat(matches[2], 64)
	s, _ := strconv.ParseFloat(matches[3], 64)
	cs, _ := strconv.ParseFloat(matches[4], 64)
	return h*3600 + m*60 + s + cs/100
}

// escapeFilterPath escapes characters ffmpeg filter arguments treat as
// special so staging-root paths with colons or backslashes still parse.
func escapeFilterPath(path string) string {
	return filterPathEscaper.Replace(path)
}

var filterPathEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`)
