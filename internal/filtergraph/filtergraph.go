// Package filtergraph builds the external video toolchain's filter-complex
// plan from a timeline of clips and images. It is a pure function of its
// inputs: no filesystem or process access happens here (component C).
package filtergraph

import (
	"fmt"
	"sort"
	"strings"
)

// InputKind distinguishes a video source from a still image.
type InputKind string

const (
	InputVideo InputKind = "video"
	InputImage InputKind = "image"
)

// Input is one entry in the project's input pool. Position in the slice
// passed to Build is that input's ffmpeg stream index.
type Input struct {
	Kind InputKind
	Path string
	ID   string
	// HasAudio is false for images and for video sources known to carry no
	// audio track; the builder substitutes silence in that case.
	HasAudio bool
}

// ItemKind distinguishes a clip (drawn from a video input) from an image
// placement on the timeline.
type ItemKind string

const (
	ItemClip  ItemKind = "clip"
	ItemImage ItemKind = "image"
)

// TimelineItem is one placed element. SourceIn/Duration are in seconds.
type TimelineItem struct {
	ID           string
	Kind         ItemKind
	SourceID     string
	ProjectStart float64
	SourceIn     float64
	Duration     float64
}

// ScalingMode controls how a source is fit into the project frame.
type ScalingMode string

const (
	ScaleFit     ScalingMode = "fit"
	ScaleFill    ScalingMode = "fill"
	ScaleStretch ScalingMode = "stretch"
)

// ProjectConfig is the target canvas.
type ProjectConfig struct {
	Width       int
	Height      int
	FPS         int
	ScalingMode ScalingMode
}

// Graph is the builder's output: a filter_complex script plus the final
// stream labels the caller maps to output.
type Graph struct {
	FilterComplex string
	VideoLabel    string // "[vconcat]"
	AudioLabel    string // "[aconcat]"
	SegmentCount  int
	Warnings      []string
}

const (
	audioSampleRate = 44100
	audioChannels   = "stereo"
)

// Build maps a timeline to a filter-graph per the gap-filling, scaling, and
// concat rules: sort by ProjectStart, emit a gap segment for any uncovered
// interval, then one segment per item, and a final concat joining every
// accumulated video/audio label pair. Unknown source ids are skipped with a
// warning rather than aborting the build.
func Build(inputs []Input, timelineItems []TimelineItem, cfg ProjectConfig) (Graph, error) {
	items := make([]TimelineItem, len(timelineItems))
	copy(items, timelineItems)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ProjectStart < items[j].ProjectStart
	})

	byIDAndKind := make(map[string]int, len(inputs))
	for i, in := range inputs {
		byIDAndKind[in.ID] = i
	}

	var (
		b            strings.Builder
		videoLabels  []string
		audioLabels  []string
		segmentIndex int
		currentTime  float64
		warnings     []string
	)

	emitGap := func(duration float64) {
		if duration <= 0 {
			return
		}
		vLabel := fmt.Sprintf("gapv%d", segmentIndex)
		aLabel := fmt.Sprintf("gapa%d", segmentIndex)
		fmt.Fprintf(&b, "color=s=%dx%d:c=black:d=%s[%s];", cfg.Width, cfg.Height, formatSeconds(duration), vLabel)
		fmt.Fprintf(&b, "anullsrc=cl=%s:r=%d:d=%s[%s];", audioChannels, audioSampleRate, formatSeconds(duration), aLabel)
		videoLabels = append(videoLabels, "["+vLabel+"]")
		audioLabels = append(audioLabels, "["+aLabel+"]")
		segmentIndex++
	}

	scaleChain := func() string {
		w, h := cfg.Width, cfg.Height
		switch cfg.ScalingMode {
		case ScaleFill:
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase, crop=%d:%d, setsar=1", w, h, w, h)
		case ScaleStretch:
			return fmt.Sprintf("scale=%d:%d, setsar=1", w, h)
		default: // fit
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease, pad=%d:%d:(ow-iw)/2:(oh-ih)/2, setsar=1", w, h, w, h)
		}
	}

	for _, item := range items {
		if item.ProjectStart > currentTime {
			emitGap(item.ProjectStart - currentTime)
		}

		idx, ok := byIDAndKind[item.SourceID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("filtergraph: timeline item %s references unknown source %s, skipping", item.ID, item.SourceID))
			continue
		}
		input := inputs[idx]

		vLabel := fmt.Sprintf("v%d", segmentIndex)
		aLabel := fmt.Sprintf("a%d", segmentIndex)

		switch item.Kind {
		case ItemClip:
			fmt.Fprintf(&b, "[%d:v] trim=start=%s:duration=%s, setpts=PTS-STARTPTS, %s, fps=%d [%s];",
				idx, formatSeconds(item.SourceIn), formatSeconds(item.Duration), scaleChain(), cfg.FPS, vLabel)
			if input.HasAudio {
				fmt.Fprintf(&b, "[%d:a] atrim=start=%s:duration=%s, asetpts=PTS-STARTPTS, aformat=sample_fmts=fltp:sample_rates=%d:channel_layouts=%s [%s];",
					idx, formatSeconds(item.SourceIn), formatSeconds(item.Duration), audioSampleRate, audioChannels, aLabel)
			} else {
				fmt.Fprintf(&b, "anullsrc=cl=%s:r=%d:d=%s[%s];", audioChannels, audioSampleRate, formatSeconds(item.Duration), aLabel)
			}
		case ItemImage:
			fmt.Fprintf(&b, "[%d:v] loop=loop=-1:size=1, setpts=PTS-STARTPTS, trim=duration=%s, %s, fps=%d [%s];",
				idx, formatSeconds(item.Duration), scaleChain(), cfg.FPS, vLabel)
			fmt.Fprintf(&b, "anullsrc=cl=%s:r=%d:d=%s[%s];", audioChannels, audioSampleRate, formatSeconds(item.Duration), aLabel)
		default:
			warnings = append(warnings, fmt.Sprintf("filtergraph: timeline item %s has unknown kind %q, skipping", item.ID, item.Kind))
			continue
		}

		videoLabels = append(videoLabels, "["+vLabel+"]")
		audioLabels = append(audioLabels, "["+aLabel+"]")
		currentTime = item.ProjectStart + item.Duration
		segmentIndex++
	}

	n := len(videoLabels)
	for i := range videoLabels {
		b.WriteString(videoLabels[i])
		b.WriteString(audioLabels[i])
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[vconcat][aconcat]", n)

	return Graph{
		FilterComplex: b.String(),
		VideoLabel:    "[vconcat]",
		AudioLabel:    "[aconcat]",
		SegmentCount:  n,
		Warnings:      warnings,
	}, nil
}

// formatSeconds renders a duration with enough precision for ffmpeg filter
// arguments while avoiding trailing zeros for whole-second durations.
func formatSeconds(seconds float64) string {
	s := fmt.Sprintf("%.3f", seconds)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
