// Package testsupport provides in-memory fakes shared by unit tests.
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// FakeGraphStore records upserts in memory and lets tests inject failures
// and canned query results.
type FakeGraphStore struct {
	mu sync.Mutex

	Nodes map[string]map[string]map[string]any // label -> identity -> props
	Edges []models.GraphEdge

	// UpsertNodeCalls counts every UpsertNodes invocation
	UpsertNodeCalls int
	// WriteErrs is popped on each write; nil entries mean success.
	// Lets tests inject transient failures on specific writes.
	WriteErrs []error
	// ReadResults maps a query substring to canned rows
	ReadResults map[string][]interfaces.Row

	SchemaInitialized bool
	SchemaForced      bool
}

// NewFakeGraphStore creates an empty fake graph store
func NewFakeGraphStore() *FakeGraphStore {
	return &FakeGraphStore{
		Nodes:       make(map[string]map[string]map[string]any),
		ReadResults: make(map[string][]interfaces.Row),
	}
}

var _ interfaces.GraphStore = (*FakeGraphStore)(nil)

func (f *FakeGraphStore) popWriteErr() error {
	if len(f.WriteErrs) == 0 {
		return nil
	}
	err := f.WriteErrs[0]
	f.WriteErrs = f.WriteErrs[1:]
	return err
}

func (f *FakeGraphStore) InitializeSchema(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SchemaInitialized = true
	f.SchemaForced = force
	return nil
}

func (f *FakeGraphStore) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fragment, rows := range f.ReadResults {
		if fragment != "" && contains(query, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *FakeGraphStore) ExecuteWrite(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popWriteErr(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *FakeGraphStore) ExecuteBatch(ctx context.Context, statements []interfaces.Statement, write bool) ([][]interfaces.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popWriteErr(); err != nil {
		return nil, err
	}
	return make([][]interfaces.Row, len(statements)), nil
}

func (f *FakeGraphStore) UpsertNodes(ctx context.Context, label string, rows []map[string]any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertNodeCalls++
	if err := f.popWriteErr(); err != nil {
		return 0, err
	}

	if f.Nodes[label] == nil {
		f.Nodes[label] = make(map[string]map[string]any)
	}
	for _, row := range rows {
		key := identityOf(label, row)
		f.Nodes[label][key] = row
	}
	return len(rows), nil
}

func (f *FakeGraphStore) UpsertEdges(ctx context.Context, edges []models.GraphEdge) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popWriteErr(); err != nil {
		return 0, err
	}
	f.Edges = append(f.Edges, edges...)
	return len(edges), nil
}

func (f *FakeGraphStore) VectorSearch(ctx context.Context, label, property string, embedding []float32, k int, minSimilarity float64) ([]interfaces.VectorHit, error) {
	return nil, nil
}

func (f *FakeGraphStore) WithTransaction(ctx context.Context, fn func(tx interfaces.GraphTransaction) error) error {
	return fn(&fakeTransaction{})
}

func (f *FakeGraphStore) Close(ctx context.Context) error {
	return nil
}

// NodeCount returns how many nodes of a label were stored
func (f *FakeGraphStore) NodeCount(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Nodes[label])
}

// Node returns the stored properties for an identity, or nil
func (f *FakeGraphStore) Node(label, identity string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nodes[label][identity]
}

// EdgeCount returns how many edges of a type were stored
func (f *FakeGraphStore) EdgeCount(edgeType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, edge := range f.Edges {
		if edge.Type == edgeType {
			count++
		}
	}
	return count
}

type fakeTransaction struct{}

func (t *fakeTransaction) Run(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	return nil, nil
}

func identityOf(label string, row map[string]any) string {
	keys := models.IdentityProperties(label)
	if len(keys) == 0 {
		return fmt.Sprintf("%v", row)
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%v", row[key]))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%v", parts)
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// MemJobStorage is an in-memory JobStorage implementation
type MemJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewMemJobStorage() *MemJobStorage {
	return &MemJobStorage{jobs: make(map[string]*models.Job)}
}

var _ interfaces.JobStorage = (*MemJobStorage)(nil)

func (s *MemJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemJobStorage) ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Job
	for _, job := range s.jobs {
		if opts != nil && opts.Status != "" && job.Status != opts.Status {
			continue
		}
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return interfaces.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemJobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.ListJobs(ctx, &models.JobListOptions{Status: status})
}

// MemEventStorage is an in-memory EventStorage implementation
type MemEventStorage struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func NewMemEventStorage() *MemEventStorage {
	return &MemEventStorage{}
}

var _ interfaces.EventStorage = (*MemEventStorage)(nil)

func (s *MemEventStorage) SaveEvent(ctx context.Context, event *models.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Key = models.EventKey(event.JobID, event.Sequence)
	s.events = append(s.events, *event)
	return nil
}

func (s *MemEventStorage) GetEvents(ctx context.Context, jobID string, sinceSequence uint64) ([]models.ProgressEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.ProgressEvent
	for _, event := range s.events {
		if event.JobID == jobID && event.Sequence > sinceSequence {
			result = append(result, event)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

func (s *MemEventStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.ProgressEvent
	removed := 0
	for _, event := range s.events {
		if event.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept
	return removed, nil
}

// MemKVStorage is an in-memory KeyValueStorage implementation
type MemKVStorage struct {
	mu    sync.Mutex
	pairs map[string]string
}

func NewMemKVStorage() *MemKVStorage {
	return &MemKVStorage{pairs: make(map[string]string)}
}

var _ interfaces.KeyValueStorage = (*MemKVStorage)(nil)

func (s *MemKVStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.pairs[key]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return value, nil
}

func (s *MemKVStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[key] = value
	return nil
}

func (s *MemKVStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[key]; !ok {
		return interfaces.ErrKeyNotFound
	}
	delete(s.pairs, key)
	return nil
}

func (s *MemKVStorage) DeleteByPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.pairs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.pairs, key)
		}
	}
	return nil
}

func (s *MemKVStorage) ListByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]string)
	for key, value := range s.pairs {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			result[key] = value
		}
	}
	return result, nil
}

// FakeStepContext is a minimal StepContext for exercising steps directly
type FakeStepContext struct {
	ID         string
	Repo       string
	ParamMap   map[string]any
	GraphStore interfaces.GraphStore
	KV         interfaces.KeyValueStorage

	mu       sync.Mutex
	Progress []float64
	Messages []string
}

var _ interfaces.StepContext = (*FakeStepContext)(nil)

func NewFakeStepContext(repo string, params map[string]any, store interfaces.GraphStore) *FakeStepContext {
	if params == nil {
		params = map[string]any{}
	}
	return &FakeStepContext{
		ID:         "job_test",
		Repo:       repo,
		ParamMap:   params,
		GraphStore: store,
		KV:         NewMemKVStorage(),
	}
}

func (c *FakeStepContext) JobID() string                     { return c.ID }
func (c *FakeStepContext) RepoPath() string                  { return c.Repo }
func (c *FakeStepContext) Params() map[string]any            { return c.ParamMap }
func (c *FakeStepContext) Graph() interfaces.GraphStore      { return c.GraphStore }
func (c *FakeStepContext) Logger() arbor.ILogger             { return arbor.NewLogger() }
func (c *FakeStepContext) State() interfaces.KeyValueStorage { return c.KV }

func (c *FakeStepContext) PublishProgress(percentage float64, message string, counters map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Progress = append(c.Progress, percentage)
	c.Messages = append(c.Messages, message)
}

// LastProgress returns the most recent percentage, or 0
func (c *FakeStepContext) LastProgress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Progress) == 0 {
		return 0
	}
	return c.Progress[len(c.Progress)-1]
}
