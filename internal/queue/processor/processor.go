// Package processor dispatches a claimed job to the execution strategy
// matching its metadata kind, consuming internal/filtergraph for timeline
// exports and internal/videotool for the external toolchain invocation.
package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maauso/mediaqueue/internal/filtergraph"
	"github.com/maauso/mediaqueue/internal/pathsafety"
	"github.com/maauso/mediaqueue/internal/store"
	"github.com/maauso/mediaqueue/internal/videotool"
)

// ProgressFunc reports 0..100 as a job advances.
type ProgressFunc func(percent int)

// Processor executes one job to completion, reporting progress as it goes.
// Implementations must check every path against the path-safety gate
// before touching the filesystem.
type Processor interface {
	Process(ctx context.Context, job store.Job, stagingRoot string, onProgress ProgressFunc) (store.Result, error)
}

// ErrUnsafePath is returned when a job's metadata names a path the gate
// rejects.
var ErrUnsafePath = fmt.Errorf("processor: path rejected by path-safety gate")

func checkPath(path, stagingRoot string) error {
	if path == "" {
		return nil
	}
	if !pathsafety.IsSafe(path, stagingRoot) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}
	return nil
}

// Dispatcher routes a job to the Processor matching its metadata kind.
type Dispatcher struct {
	singleBurn  Processor
	multiExport Processor
}

// NewDispatcher wires the two known processors.
func NewDispatcher(singleBurn, multiExport Processor) *Dispatcher {
	return &Dispatcher{singleBurn: singleBurn, multiExport: multiExport}
}

// Process routes by job.Metadata.Kind. An unknown kind is a processing
// failure, not a panic (mirrors how queue.Manager.Recover fails a loaded
// job of unknown kind).
func (d *Dispatcher) Process(ctx context.Context, job store.Job, stagingRoot string, onProgress ProgressFunc) (store.Result, error) {
	switch job.Metadata.Kind {
	case store.KindMultiExport:
		return d.multiExport.Process(ctx, job, stagingRoot, onProgress)
	case store.KindSingleBurn:
		return d.singleBurn.Process(ctx, job, stagingRoot, onProgress)
	default:
		return store.Result{}, fmt.Errorf("processor: %w: %q", store.ErrUnknownMetadataKind, job.Metadata.Kind)
	}
}

// DurationProber measures an input's duration; satisfied by
// *videotool.Prober in production and stubbed in tests.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// SingleBurnProcessor invokes the video toolchain directly against one
// input, a pre-computed subtitle file, and an output path.
type SingleBurnProcessor struct {
	Runner videotool.Runner
	Prober DurationProber
}

var _ Processor = (*SingleBurnProcessor)(nil)

func (p *SingleBurnProcessor) Process(ctx context.Context, job store.Job, stagingRoot string, onProgress ProgressFunc) (store.Result, error) {
	payload := job.Metadata.SingleBurn
	if payload == nil {
		return store.Result{}, fmt.Errorf("processor: single-burn job %s missing payload", job.ID)
	}

	for _, p2 := range []string{payload.InputPath, payload.SubtitlePath, payload.OutputPath} {
		if err := checkPath(p2, stagingRoot); err != nil {
			return store.Result{}, err
		}
	}

	duration, err := p.Prober.Duration(ctx, payload.InputPath)
	if err != nil {
		return store.Result{}, fmt.Errorf("processor: probe duration: %w", err)
	}

	err = p.Runner.BurnSubtitles(ctx, videotool.BurnOptions{
		InputPath:     payload.InputPath,
		SubtitlePath:  payload.SubtitlePath,
		OutputPath:    payload.OutputPath,
		TotalDuration: duration,
	}, videotool.ProgressFunc(onProgress))
	if err != nil {
		return store.Result{}, err
	}

	return store.Result{
		OutputVideoPath:    payload.OutputPath,
		OutputSubtitlePath: payload.SubtitlePath,
	}, nil
}

// MultiExportProcessor consults the filter-graph builder to assemble a
// command plan for a multi-clip timeline, then invokes the toolchain.
type MultiExportProcessor struct {
	Runner videotool.Runner
}

var _ Processor = (*MultiExportProcessor)(nil)

func (p *MultiExportProcessor) Process(ctx context.Context, job store.Job, stagingRoot string, onProgress ProgressFunc) (store.Result, error) {
	payload := job.Metadata.MultiExport
	if payload == nil {
		return store.Result{}, fmt.Errorf("processor: multi-export job %s missing payload", job.ID)
	}

	var inputs []filtergraph.Input
	if err := json.Unmarshal(payload.Inputs, &inputs); err != nil {
		return store.Result{}, fmt.Errorf("processor: unmarshal inputs: %w", err)
	}
	var items []filtergraph.TimelineItem
	if err := json.Unmarshal(payload.TimelineItems, &items); err != nil {
		return store.Result{}, fmt.Errorf("processor: unmarshal timeline items: %w", err)
	}
	var cfg filtergraph.ProjectConfig
	if err := json.Unmarshal(payload.ProjectConfig, &cfg); err != nil {
		return store.Result{}, fmt.Errorf("processor: unmarshal project config: %w", err)
	}

	for _, in := range inputs {
		if err := checkPath(in.Path, stagingRoot); err != nil {
			return store.Result{}, err
		}
	}
	for _, path := range []string{payload.SubtitlePath, payload.OutputPath} {
		if err := checkPath(path, stagingRoot); err != nil {
			return store.Result{}, err
		}
	}

	graph, err := filtergraph.Build(inputs, items, cfg)
	if err != nil {
		return store.Result{}, fmt.Errorf("processor: build filter graph: %w", err)
	}

	totalDuration := timelineDuration(items)

	err = p.Runner.Export(ctx, videotool.ExportOptions{
		Inputs:        inputs,
		Graph:         graph,
		SubtitlePath:  payload.SubtitlePath,
		OutputPath:    payload.OutputPath,
		TotalDuration: totalDuration,
	}, videotool.ProgressFunc(onProgress))
	if err != nil {
		return store.Result{}, err
	}

	return store.Result{
		OutputVideoPath:    payload.OutputPath,
		OutputSubtitlePath: payload.SubtitlePath,
	}, nil
}

func timelineDuration(items []filtergraph.TimelineItem) float64 {
	var maxEnd float64
	for _, item := range items {
		end := item.ProjectStart + item.Duration
		if end > maxEnd {
			maxEnd = end
		}
	}
	return maxEnd
}
