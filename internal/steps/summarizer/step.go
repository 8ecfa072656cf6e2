// -----------------------------------------------------------------------
// Summarizer Step - LLM summaries over the code-entity dependency DAG
// -----------------------------------------------------------------------

package summarizer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/pipeline"
	"github.com/ternarybob/codestory/internal/steps/astextract"
	"github.com/ternarybob/codestory/internal/steps/filesystem"
)

// StepName is the registry identifier for the summarizer step
const StepName = "summarizer"

const llmAttempts = 3

// Step computes natural-language summaries and embeddings for code
// entities, attached as Summary nodes via SUMMARIZED_BY edges.
//
// Entities are walked dependencies-first over the CONTAINS/DEFINES/CALLS/
// INHERITS_FROM edges, with strongly connected components condensed so
// mutual recursion cannot deadlock the ordering. Each layer runs under a
// bounded-concurrency executor. An entity whose stored summary matches the
// current content hash is skipped.
type Step struct {
	llm        interfaces.LLMService
	embeddings interfaces.EmbeddingService
}

// New constructs a fresh step instance bound to the shared adapters
func New(llm interfaces.LLMService, embeddings interfaces.EmbeddingService) interfaces.Step {
	return &Step{llm: llm, embeddings: embeddings}
}

// Factory returns a registry factory producing fresh instances per run
func Factory(llm interfaces.LLMService, embeddings interfaces.EmbeddingService) interfaces.StepFactory {
	return func() interfaces.Step {
		return New(llm, embeddings)
	}
}

func (s *Step) Name() string {
	return StepName
}

func (s *Step) DeclaredDependencies(params map[string]any) []string {
	return []string{filesystem.StepName, astextract.StepName}
}

func (s *Step) RetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Second}
}

// DefaultParams declares the recognized parameters and their defaults
func (s *Step) DefaultParams() map[string]any {
	return map[string]any{
		"max_concurrency":           5,
		"max_tokens_per_file":       8000,
		"chat_model":                "",
		"embedding_model":           "",
		"prompt_template_overrides": map[string]string{},
	}
}

// runState is the shared state of one summarization run
type runState struct {
	sc        interfaces.StepContext
	graph     *entityGraph
	overrides map[string]string
	maxTokens int

	summaries sync.Map // qualified name -> summary text
	processed int64
	skipped   int64
	total     int64

	mu       sync.Mutex
	firstErr *models.ErrorRecord
}

func (r *runState) fail(record *models.ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = record
	}
}

func (r *runState) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr != nil
}

func (s *Step) Run(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
	params := sc.Params()
	maxConcurrency := pipeline.ParamInt(params, "max_concurrency", 5)
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	maxTokens := pipeline.ParamInt(params, "max_tokens_per_file", 8000)
	overrides := pipeline.ParamStringMap(params, "prompt_template_overrides", nil)

	logger := sc.Logger()

	graph, err := loadEntityGraph(ctx, sc.Graph())
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrTransientGraph, StepName, err))
	}
	if len(graph.entities) == 0 {
		logger.Info().Msg("No code entities to summarize")
		sc.PublishProgress(1, "no entities", nil)
		return interfaces.Succeeded()
	}

	layers := graph.layers()
	state := &runState{
		sc:        sc,
		graph:     graph,
		overrides: overrides,
		maxTokens: maxTokens,
		total:     int64(len(graph.entities)),
	}

	logger.Info().
		Int("entities", len(graph.entities)).
		Int("layers", len(layers)).
		Int("max_concurrency", maxConcurrency).
		Msg("Summarization starting")

	sem := make(chan struct{}, maxConcurrency)
	for _, layer := range layers {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		if state.failed() {
			break
		}

		var wg sync.WaitGroup
		for _, component := range layer {
			component := component
			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}
				if state.failed() {
					return
				}
				s.summarizeComponent(ctx, state, component)
			}()
		}
		wg.Wait()
	}

	if ctx.Err() != nil {
		return interfaces.Cancelled()
	}
	if state.firstErr != nil {
		return interfaces.Failed(state.firstErr)
	}

	counters := map[string]int64{
		"summarized": atomic.LoadInt64(&state.processed) - atomic.LoadInt64(&state.skipped),
		"skipped":    atomic.LoadInt64(&state.skipped),
	}
	sc.PublishProgress(1, "summaries complete", counters)

	logger.Info().
		Int64("summarized", counters["summarized"]).
		Int64("skipped", counters["skipped"]).
		Msg("Summarization completed")

	return interfaces.Succeeded()
}

// summarizeComponent handles one strongly connected component. Members of a
// multi-entity component are mutually recursive; each prompt names the rest
// of the group as shared context.
func (s *Step) summarizeComponent(ctx context.Context, state *runState, component []string) {
	sorted := append([]string(nil), component...)
	sort.Strings(sorted)

	for _, name := range sorted {
		if ctx.Err() != nil || state.failed() {
			return
		}
		e := state.graph.entities[name]
		if e == nil {
			continue
		}

		var group []string
		if len(sorted) > 1 {
			for _, member := range sorted {
				if member != name {
					group = append(group, member)
				}
			}
		}

		if record := s.summarizeEntity(ctx, state, e, group); record != nil {
			state.fail(record)
			return
		}

		done := atomic.AddInt64(&state.processed, 1)
		state.sc.PublishProgress(float64(done)/float64(state.total),
			fmt.Sprintf("%d of %d entities summarized", done, state.total),
			map[string]int64{"entities": done})
	}
}

// summarizeEntity produces (or reuses) the Summary node for one entity
func (s *Step) summarizeEntity(ctx context.Context, state *runState, e *entity, group []string) *models.ErrorRecord {
	logger := state.sc.Logger()

	source := s.readSnippet(state.sc.RepoPath(), e)
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(e.QualifiedName+"\x00"+e.Docstring+"\x00"+source)))

	existingID, existingText, existingHash, err := s.existingSummary(ctx, state.sc.Graph(), e)
	if err != nil {
		return models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
	}
	if existingHash == hash && existingText != "" {
		state.summaries.Store(e.QualifiedName, existingText)
		atomic.AddInt64(&state.skipped, 1)
		logger.Debug().Str("entity", e.QualifiedName).Msg("Summary up to date - skipping")
		return nil
	}

	truncated := truncateSource(source, e.Docstring, state.maxTokens)

	var children []string
	for _, dep := range state.graph.deps[e.QualifiedName] {
		if text, ok := state.summaries.Load(dep); ok {
			children = append(children, fmt.Sprintf("- %s: %s", dep, text))
		}
	}
	sort.Strings(children)

	prompt := renderPrompt(e, truncated, children, group, state.overrides)

	text, record := s.chatWithRetry(ctx, prompt)
	if record != nil {
		return record
	}
	if ctx.Err() != nil {
		return nil // cancellation observed; the run loop reports Cancelled
	}

	embedding, err := s.embeddings.GenerateEmbedding(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return models.NewErrorRecord(models.ErrLLM, StepName,
			fmt.Errorf("embedding generation failed for %s: %w", e.QualifiedName, err))
	}

	summaryID := existingID
	if summaryID == "" {
		summaryID = common.NewSummaryID()
	}

	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}

	if _, err := state.sc.Graph().UpsertNodes(ctx, models.NodeSummary, []map[string]any{{
		"id":           summaryID,
		"text":         text,
		"embedding":    vector,
		"content_hash": hash,
		"entity":       e.QualifiedName,
		"entity_kind":  e.Label,
		"model":        s.embeddings.ModelName(),
	}}); err != nil {
		return models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
	}

	if _, err := state.sc.Graph().UpsertEdges(ctx, []models.GraphEdge{{
		Type:      models.EdgeSummarizedBy,
		FromLabel: e.Label,
		FromKey:   map[string]any{"qualified_name": e.QualifiedName},
		ToLabel:   models.NodeSummary,
		ToKey:     map[string]any{"id": summaryID},
	}}); err != nil {
		return models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
	}

	state.summaries.Store(e.QualifiedName, text)
	return nil
}

// chatWithRetry calls the LLM, absorbing the retryable error subset
// (rate limits, timeouts) within the step's envelope
func (s *Step) chatWithRetry(ctx context.Context, prompt string) (string, *models.ErrorRecord) {
	messages := []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 1; attempt <= llmAttempts; attempt++ {
		text, err := s.llm.Chat(ctx, messages)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", nil
		}
		if !isRetryableLLM(err) || attempt == llmAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", nil
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}

	return "", models.NewErrorRecord(models.ErrLLM, StepName, lastErr)
}

// existingSummary looks up a previously stored summary for the entity
func (s *Step) existingSummary(ctx context.Context, store interfaces.GraphStore, e *entity) (id, text, hash string, err error) {
	query := fmt.Sprintf(
		"MATCH (n:%s {qualified_name: $qn})-[:%s]->(s:%s) RETURN s.id AS id, s.text AS text, s.content_hash AS content_hash",
		e.Label, models.EdgeSummarizedBy, models.NodeSummary,
	)
	rows, err := store.ExecuteRead(ctx, query, map[string]any{"qn": e.QualifiedName})
	if err != nil {
		return "", "", "", err
	}
	if len(rows) == 0 {
		return "", "", "", nil
	}
	return rowString(rows[0], "id"), rowString(rows[0], "text"), rowString(rows[0], "content_hash"), nil
}

// readSnippet loads the entity's source lines from the repository. Falls
// back to the docstring when the file is unreadable.
func (s *Step) readSnippet(repoPath string, e *entity) string {
	if e.Path == "" {
		return e.Docstring
	}

	data, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(strings.TrimPrefix(e.Path, "/"))))
	if err != nil {
		return e.Docstring
	}
	content := string(data)

	if e.StartLine <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	start := e.StartLine - 1
	if start >= len(lines) {
		return content
	}
	end := e.EndLine
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

// isRetryableLLM mirrors the adapter's transient classification
func isRetryableLLM(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "connection reset"):
		return true
	}
	return false
}
