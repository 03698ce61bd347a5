package preflight

import (
	"context"

	"meetsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Source checks only run when the source is enabled in config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Transcripts directory", cfg.Paths.TranscriptsDir),
		CheckDirectoryAccess("Meetings directory", cfg.Paths.MeetingsDir),
	}

	if cfg.Sources.Cache.Enabled {
		results = append(results, CheckReadableDirectory("Recorder cache", cfg.Sources.Cache.Path))
	}

	if cfg.Sources.Bridge.Enabled {
		results = append(results, CheckBridge(ctx, cfg.Sources.Bridge.Endpoint, cfg.Sources.Bridge.Token))
	}

	return results
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
