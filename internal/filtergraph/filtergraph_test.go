package filtergraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_GapFilling(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: true}}
	items := []TimelineItem{
		{ID: "t1", Kind: ItemClip, SourceID: "v1", ProjectStart: 5, SourceIn: 0, Duration: 10},
	}
	cfg := ProjectConfig{Width: 1920, Height: 1080, FPS: 30, ScalingMode: ScaleFit}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	assert.Contains(t, graph.FilterComplex, "color=s=1920x1080:c=black:d=5[gapv0]")
	assert.Contains(t, graph.FilterComplex, "anullsrc=cl=stereo:r=44100:d=5[gapa0]")
	assert.Contains(t, graph.FilterComplex, "trim=start=0:duration=10")
	assert.Contains(t, graph.FilterComplex, "concat=n=2:v=1:a=1[vconcat][aconcat]")
	assert.Equal(t, 2, graph.SegmentCount)
	assert.Empty(t, graph.Warnings)
}

func TestBuild_ZeroItemsProducesEmptyConcat(t *testing.T) {
	cfg := ProjectConfig{Width: 1280, Height: 720, FPS: 24, ScalingMode: ScaleFit}

	graph, err := Build(nil, nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, graph.SegmentCount)
	assert.Contains(t, graph.FilterComplex, "concat=n=0:v=1:a=1[vconcat][aconcat]")
}

func TestBuild_UnknownSourceIsSkippedWithWarning(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: true}}
	items := []TimelineItem{
		{ID: "t1", Kind: ItemClip, SourceID: "missing", ProjectStart: 0, SourceIn: 0, Duration: 5},
		{ID: "t2", Kind: ItemClip, SourceID: "v1", ProjectStart: 5, SourceIn: 0, Duration: 3},
	}
	cfg := ProjectConfig{Width: 640, Height: 360, FPS: 30, ScalingMode: ScaleFit}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	require.Len(t, graph.Warnings, 1)
	assert.Contains(t, graph.Warnings[0], "t1")
	assert.Equal(t, 2, graph.SegmentCount)
}

func TestBuild_SilentAudioSubstitutedWhenSourceHasNoAudio(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: false}}
	items := []TimelineItem{
		{ID: "t1", Kind: ItemClip, SourceID: "v1", ProjectStart: 0, SourceIn: 0, Duration: 4},
	}
	cfg := ProjectConfig{Width: 640, Height: 360, FPS: 30, ScalingMode: ScaleFit}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	assert.Contains(t, graph.FilterComplex, "anullsrc=cl=stereo:r=44100:d=4[a0]")
}

func TestBuild_ImagePlacementLoopsAndScales(t *testing.T) {
	inputs := []Input{{Kind: InputImage, ID: "img1", Path: "/b.png"}}
	items := []TimelineItem{
		{ID: "t1", Kind: ItemImage, SourceID: "img1", ProjectStart: 0, Duration: 6},
	}
	cfg := ProjectConfig{Width: 800, Height: 600, FPS: 25, ScalingMode: ScaleFill}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	assert.Contains(t, graph.FilterComplex, "loop=loop=-1:size=1")
	assert.Contains(t, graph.FilterComplex, "crop=800:600")
	assert.Contains(t, graph.FilterComplex, "anullsrc=cl=stereo:r=44100:d=6[a0]")
}

func TestBuild_ScalingModes(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: true}}
	items := []TimelineItem{{ID: "t1", Kind: ItemClip, SourceID: "v1", ProjectStart: 0, SourceIn: 0, Duration: 2}}

	fit, err := Build(inputs, items, ProjectConfig{Width: 100, Height: 50, FPS: 30, ScalingMode: ScaleFit})
	require.NoError(t, err)
	assert.Contains(t, fit.FilterComplex, "force_original_aspect_ratio=decrease")

	fill, err := Build(inputs, items, ProjectConfig{Width: 100, Height: 50, FPS: 30, ScalingMode: ScaleFill})
	require.NoError(t, err)
	assert.Contains(t, fill.FilterComplex, "force_original_aspect_ratio=increase")

	stretch, err := Build(inputs, items, ProjectConfig{Width: 100, Height: 50, FPS: 30, ScalingMode: ScaleStretch})
	require.NoError(t, err)
	assert.Contains(t, stretch.FilterComplex, "scale=100:50, setsar=1")
	assert.NotContains(t, stretch.FilterComplex, "force_original_aspect_ratio")
}

func TestBuild_OverlappingItemsProcessedInSortedOrderNoNegativeGap(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: true}}
	items := []TimelineItem{
		{ID: "t2", Kind: ItemClip, SourceID: "v1", ProjectStart: 3, SourceIn: 0, Duration: 5},
		{ID: "t1", Kind: ItemClip, SourceID: "v1", ProjectStart: 0, SourceIn: 0, Duration: 5},
	}
	cfg := ProjectConfig{Width: 640, Height: 360, FPS: 30, ScalingMode: ScaleFit}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	assert.NotContains(t, graph.FilterComplex, "color=s=640x360")
	assert.Equal(t, 2, graph.SegmentCount)
}

func TestBuild_ConcatCountMatchesSegments(t *testing.T) {
	inputs := []Input{{Kind: InputVideo, ID: "v1", Path: "/a", HasAudio: true}}
	items := []TimelineItem{
		{ID: "t1", Kind: ItemClip, SourceID: "v1", ProjectStart: 2, SourceIn: 0, Duration: 3},
		{ID: "t2", Kind: ItemClip, SourceID: "v1", ProjectStart: 10, SourceIn: 0, Duration: 2},
	}
	cfg := ProjectConfig{Width: 640, Height: 360, FPS: 30, ScalingMode: ScaleFit}

	graph, err := Build(inputs, items, cfg)
	require.NoError(t, err)

	occurrences := strings.Count(graph.FilterComplex, "concat=n=")
	assert.Equal(t, 1, occurrences)
	assert.Contains(t, graph.FilterComplex, "concat=n=4:v=1:a=1[vconcat][aconcat]")
}
