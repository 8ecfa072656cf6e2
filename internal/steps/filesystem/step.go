// -----------------------------------------------------------------------
// Filesystem Step - Walks the repository into File/Directory graph nodes
// -----------------------------------------------------------------------

package filesystem

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v2"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/pipeline"
)

// StepName is the registry identifier for the filesystem scanner
const StepName = "filesystem"

// FileCountKey is the job-state key where the scanner records how many
// files it ingested, for downstream progress estimation.
const FileCountKey = "filesystem:file_count"

// Step walks the repository root producing Directory and File nodes plus
// CONTAINS edges, batched through the graph store. Content hashes make
// reruns over unchanged trees idempotent.
type Step struct{}

// New constructs a fresh step instance
func New() interfaces.Step {
	return &Step{}
}

func (s *Step) Name() string {
	return StepName
}

func (s *Step) DeclaredDependencies(params map[string]any) []string {
	return nil
}

func (s *Step) RetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// DefaultParams declares the recognized parameters and their defaults
func (s *Step) DefaultParams() map[string]any {
	return map[string]any{
		"ignore_patterns":     []string{".git", "node_modules", "__pycache__", ".venv", "vendor", "dist", "build"},
		"max_file_size_bytes": 1048576,
		"hash_algorithm":      "sha256",
		"batch_size":          500,
	}
}

// batch accumulates rows between graph flushes
type batch struct {
	files       []map[string]any
	directories []map[string]any
	edges       []models.GraphEdge
}

func (b *batch) size() int {
	return len(b.files) + len(b.directories)
}

func (s *Step) Run(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
	params := sc.Params()
	ignorePatterns := pipeline.ParamStringSlice(params, "ignore_patterns", nil)
	maxFileSize := int64(pipeline.ParamInt(params, "max_file_size_bytes", 1048576))
	hashAlgorithm := pipeline.ParamString(params, "hash_algorithm", "sha256")
	batchSize := pipeline.ParamInt(params, "batch_size", 500)
	if batchSize < 1 {
		batchSize = 500
	}

	if _, err := newHasher(hashAlgorithm); err != nil {
		return interfaces.Failed(models.NewErrorRecord(models.ErrInvalidPipeline, StepName, err))
	}

	repoPath := sc.RepoPath()
	logger := sc.Logger()

	// First pass: count entries so progress has a denominator
	total, err := s.countEntries(ctx, repoPath, ignorePatterns)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrRepoNotAccessible, StepName, err))
	}

	logger.Info().
		Str("repo_path", repoPath).
		Int("entries", total).
		Msg("Filesystem scan starting")

	current := &batch{}
	visited := 0
	fileCount := 0

	// Root directory node anchors the CONTAINS tree
	current.directories = append(current.directories, map[string]any{
		"path": "/",
		"name": filepath.Base(repoPath),
	})

	walkErr := filepath.WalkDir(repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if shouldIgnore(rel, ignorePatterns) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		nodePath := "/" + rel
		parentPath := parentOf(nodePath)

		if entry.IsDir() {
			current.directories = append(current.directories, map[string]any{
				"path": nodePath,
				"name": entry.Name(),
			})
			current.edges = append(current.edges, models.GraphEdge{
				Type:      models.EdgeContains,
				FromLabel: models.NodeDirectory,
				FromKey:   map[string]any{"path": parentPath},
				ToLabel:   models.NodeDirectory,
				ToKey:     map[string]any{"path": nodePath},
			})
		} else {
			row, rowErr := s.fileRow(path, nodePath, entry, maxFileSize, hashAlgorithm)
			if rowErr != nil {
				logger.Warn().Err(rowErr).Str("path", nodePath).Msg("Skipping unreadable file")
				return nil
			}
			current.files = append(current.files, row)
			current.edges = append(current.edges, models.GraphEdge{
				Type:      models.EdgeContains,
				FromLabel: models.NodeDirectory,
				FromKey:   map[string]any{"path": parentPath},
				ToLabel:   models.NodeFile,
				ToKey:     map[string]any{"path": nodePath},
			})
			fileCount++
		}

		visited++
		if current.size() >= batchSize {
			if err := s.flush(ctx, sc, current); err != nil {
				return err
			}
			current = &batch{}

			progress := 0.0
			if total > 0 {
				progress = float64(visited) / float64(total)
			}
			sc.PublishProgress(progress, fmt.Sprintf("%d of %d entries scanned", visited, total),
				map[string]int64{"files": int64(fileCount), "entries": int64(visited)})
		}

		return nil
	})

	if walkErr != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		kind := models.ErrRepoNotAccessible
		if strings.Contains(walkErr.Error(), string(models.ErrTransientGraph)) {
			kind = models.ErrTransientGraph
		}
		return interfaces.Failed(models.NewErrorRecord(kind, StepName, walkErr))
	}

	if err := s.flush(ctx, sc, current); err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrTransientGraph, StepName, err))
	}

	if err := sc.State().Set(ctx, FileCountKey, strconv.Itoa(fileCount)); err != nil {
		logger.Warn().Err(err).Msg("Failed to record file count in job state")
	}

	sc.PublishProgress(1, fmt.Sprintf("%d files ingested", fileCount),
		map[string]int64{"files": int64(fileCount), "entries": int64(visited)})

	logger.Info().
		Int("files", fileCount).
		Int("entries", visited).
		Msg("Filesystem scan completed")

	return interfaces.Succeeded()
}

// countEntries walks the tree once to estimate total work
func (s *Step) countEntries(ctx context.Context, repoPath string, ignorePatterns []string) (int, error) {
	count := 0
	err := filepath.WalkDir(repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if shouldIgnore(rel, ignorePatterns) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count, err
}

// fileRow builds the upsert row for one file
func (s *Step) fileRow(absPath, nodePath string, entry fs.DirEntry, maxFileSize int64, hashAlgorithm string) (map[string]any, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, err
	}

	row := map[string]any{
		"path":      nodePath,
		"name":      entry.Name(),
		"extension": strings.TrimPrefix(filepath.Ext(entry.Name()), "."),
		"size":      info.Size(),
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	hasher, err := newHasher(hashAlgorithm)
	if err != nil {
		return nil, err
	}
	hasher.Write(data)
	row["content_hash"] = fmt.Sprintf("%x", hasher.Sum(nil))

	if info.Size() <= maxFileSize && isTextual(data) {
		row["content"] = string(data)
	}

	return row, nil
}

// flush writes the accumulated batch through the graph store
func (s *Step) flush(ctx context.Context, sc interfaces.StepContext, b *batch) error {
	if b.size() == 0 && len(b.edges) == 0 {
		return nil
	}

	if len(b.directories) > 0 {
		if _, err := sc.Graph().UpsertNodes(ctx, models.NodeDirectory, b.directories); err != nil {
			return err
		}
	}
	if len(b.files) > 0 {
		if _, err := sc.Graph().UpsertNodes(ctx, models.NodeFile, b.files); err != nil {
			return err
		}
	}
	if len(b.edges) > 0 {
		if _, err := sc.Graph().UpsertEdges(ctx, b.edges); err != nil {
			return err
		}
	}
	return nil
}

// shouldIgnore matches a repo-relative path against the ignore patterns.
// A pattern matches the entry itself or anything beneath it.
func shouldIgnore(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(pattern, "/")
		if pattern == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern+"/**", rel); ok {
			return true
		}
	}
	return false
}

// parentOf returns the containing directory's node path
func parentOf(nodePath string) string {
	parent := nodePath[:strings.LastIndex(nodePath, "/")]
	if parent == "" {
		return "/"
	}
	return parent
}

// isTextual reports whether content looks like text: valid UTF-8 with no
// NUL bytes in the first 512 bytes
func isTextual(data []byte) bool {
	probe := data
	if len(probe) > 512 {
		probe = probe[:512]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(probe)
}

// newHasher returns the configured hash implementation
func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash_algorithm: %s", algorithm)
	}
}
