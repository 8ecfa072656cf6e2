// -----------------------------------------------------------------------
// AST Extract Step - Delegates symbol extraction to a containerized tool
// -----------------------------------------------------------------------

package astextract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/pipeline"
	"github.com/ternarybob/codestory/internal/steps/filesystem"
)

// StepName is the registry identifier for the AST extraction step
const StepName = "astextract"

const upsertBatchSize = 500

// Step launches the external extractor container with the repository
// mounted read-only, streams its logs as progress, and ingests the emitted
// symbol nodes and edges (Module/Class/Function, IMPORTS/CALLS/
// INHERITS_FROM/DEFINES) through the graph store.
type Step struct{}

// New constructs a fresh step instance
func New() interfaces.Step {
	return &Step{}
}

func (s *Step) Name() string {
	return StepName
}

func (s *Step) DeclaredDependencies(params map[string]any) []string {
	return []string{filesystem.StepName}
}

func (s *Step) RetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second}
}

// DefaultParams declares the recognized parameters and their defaults
func (s *Step) DefaultParams() map[string]any {
	return map[string]any{
		"docker_image":  "",
		"timeout":       240,
		"output_format": "jsonl",
	}
}

// logProgress publishes extractor stderr lines as progress messages.
// The extractor's total work is unknown, so percentage ramps
// asymptotically and the orchestrator's terminal event settles it at 1.
type logProgress struct {
	sc    interfaces.StepContext
	mu    sync.Mutex
	lines int64
	buf   []byte
}

func (w *logProgress) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
		if line == "" {
			continue
		}
		w.lines++
		pct := float64(w.lines) / float64(w.lines+50)
		if pct > 0.95 {
			pct = 0.95
		}
		w.sc.PublishProgress(pct, line, map[string]int64{"log_lines": w.lines})
	}
	return len(p), nil
}

func (s *Step) Run(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
	params := sc.Params()
	image := pipeline.ParamString(params, "docker_image", "")
	if image == "" {
		return interfaces.Failed(models.Errorf(models.ErrInvalidPipeline, StepName,
			"docker_image parameter is required"))
	}
	timeout := time.Duration(pipeline.ParamInt(params, "timeout", 240)) * time.Second
	format := pipeline.ParamString(params, "output_format", "jsonl")
	if format != "jsonl" {
		return interfaces.Failed(models.Errorf(models.ErrInvalidPipeline, StepName,
			"unsupported output_format: %s", format))
	}

	logger := sc.Logger()

	runner, err := newContainerRunner(logger)
	if err != nil {
		return interfaces.Failed(models.NewErrorRecord(models.ErrExternalTool, StepName, err))
	}
	defer runner.close()

	logger.Info().
		Str("image", image).
		Str("repo_path", sc.RepoPath()).
		Dur("timeout", timeout).
		Msg("AST extraction starting")

	var stdout bytes.Buffer
	stderr := &logProgress{sc: sc}

	exitCode, runErr := runner.run(ctx, image, sc.RepoPath(), timeout, &stdout, stderr)
	if ctx.Err() == context.Canceled {
		return interfaces.Cancelled()
	}
	if runErr != nil {
		record := models.NewErrorRecord(models.ErrExternalTool, StepName, runErr)
		if !isTransientRunError(runErr, exitCode) {
			record.Kind = models.ErrInvalidPipeline // unpullable image, bad config: terminal
		}
		return interfaces.Failed(record)
	}
	if exitCode != 0 {
		record := models.Errorf(models.ErrExternalTool, StepName,
			"extractor exited with code %d", exitCode)
		if exitCode != exitTransient {
			record.Kind = models.ErrQuery // terminal tool failure, not worth retrying
		}
		return interfaces.Failed(record)
	}

	stream, parseErr := parseSymbolStream(&stdout)
	if parseErr != nil {
		// Malformed output is terminal: retrying the same tool version
		// yields the same stream
		return interfaces.Failed(models.NewErrorRecord(models.ErrQuery, StepName, parseErr))
	}

	if err := s.ingest(ctx, sc, stream); err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrTransientGraph, StepName, err))
	}

	counters := stream.counts()
	sc.PublishProgress(1, "symbol graph ingested", counters)

	logger.Info().
		Int("edges", len(stream.edges)).
		Msg("AST extraction completed")

	return interfaces.Succeeded()
}

// ingest writes the symbol stream through the graph store in batches.
// Nodes land before edges so endpoints exist when the edge MERGE runs.
func (s *Step) ingest(ctx context.Context, sc interfaces.StepContext, stream *symbolStream) error {
	for _, label := range []string{models.NodeModule, models.NodeClass, models.NodeFunction} {
		rows := stream.nodes[label]
		for start := 0; start < len(rows); start += upsertBatchSize {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			end := start + upsertBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			if _, err := sc.Graph().UpsertNodes(ctx, label, rows[start:end]); err != nil {
				return fmt.Errorf("failed to upsert %s nodes: %w", label, err)
			}
		}
	}

	for start := 0; start < len(stream.edges); start += upsertBatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + upsertBatchSize
		if end > len(stream.edges) {
			end = len(stream.edges)
		}
		if _, err := sc.Graph().UpsertEdges(ctx, stream.edges[start:end]); err != nil {
			return fmt.Errorf("failed to upsert symbol edges: %w", err)
		}
	}

	return nil
}

// isTransientRunError classifies container launch failures. Network and
// daemon hiccups are retryable; a missing image reference is not.
func isTransientRunError(err error, exitCode int64) bool {
	if err == nil {
		return exitCode == exitTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such image"),
		strings.Contains(msg, "manifest unknown"), strings.Contains(msg, "access denied"):
		return false
	}
	return true
}
