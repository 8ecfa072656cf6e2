// -----------------------------------------------------------------------
// Doc Grapher Step - Documentation nodes linked to the code graph
// -----------------------------------------------------------------------

package docgrapher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/pipeline"
	"github.com/ternarybob/codestory/internal/steps/filesystem"
)

// StepName is the registry identifier for the documentation grapher
const StepName = "docgrapher"

// Cap on stub entities minted per document so a glossary page cannot
// flood the graph
const maxStubsPerDoc = 50

// Maximum characters fed to the embedding endpoint per document
const maxEmbedChars = 32000

// Step locates documentation artifacts (README, *.md, *.rst, *.html,
// *.pdf, and symbol docstrings), parses them into Documentation nodes with
// embeddings, and links identifier mentions to the nearest existing code
// node via DOCUMENTED_BY / REFERENCES edges. Mentions with no code node
// get DocumentationEntity stubs.
//
// Declared dependency is the filesystem step only; when the AST step also
// ran, its symbols make the linking richer.
type Step struct {
	embeddings interfaces.EmbeddingService
}

// New constructs a fresh step instance bound to the embedding adapter
func New(embeddings interfaces.EmbeddingService) interfaces.Step {
	return &Step{embeddings: embeddings}
}

// Factory returns a registry factory producing fresh instances per run
func Factory(embeddings interfaces.EmbeddingService) interfaces.StepFactory {
	return func() interfaces.Step {
		return New(embeddings)
	}
}

func (s *Step) Name() string {
	return StepName
}

func (s *Step) DeclaredDependencies(params map[string]any) []string {
	return []string{filesystem.StepName}
}

func (s *Step) RetryPolicy() interfaces.RetryPolicy {
	return interfaces.RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second}
}

// DefaultParams declares the recognized parameters and their defaults
func (s *Step) DefaultParams() map[string]any {
	return map[string]any{
		"enabled":           true,
		"fuzzy_threshold":   0.8,
		"supported_formats": []string{".md", ".rst", ".html", ".pdf"},
	}
}

func (s *Step) Run(ctx context.Context, sc interfaces.StepContext) interfaces.Outcome {
	params := sc.Params()
	if !pipeline.ParamBool(params, "enabled", true) {
		sc.Logger().Info().Msg("Doc grapher disabled by configuration")
		sc.PublishProgress(1, "disabled", nil)
		return interfaces.Succeeded()
	}
	threshold := pipeline.ParamFloat(params, "fuzzy_threshold", 0.8)
	formats := pipeline.ParamStringSlice(params, "supported_formats", []string{".md", ".rst", ".html", ".pdf"})

	logger := sc.Logger()

	docFiles, err := s.findDocFiles(ctx, sc.RepoPath(), formats)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrRepoNotAccessible, StepName, err))
	}

	link, err := newLinker(ctx, sc.Graph(), threshold)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(models.NewErrorRecord(models.ErrTransientGraph, StepName, err))
	}

	logger.Info().
		Int("documents", len(docFiles)).
		Bool("symbols_available", link.hasSymbols()).
		Msg("Documentation graphing starting")

	var linked, stubs int64
	for i, relPath := range docFiles {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}

		docLinked, docStubs, docErr := s.ingestDocument(ctx, sc, link, relPath)
		if docErr != nil {
			if ctx.Err() != nil {
				return interfaces.Cancelled()
			}
			return interfaces.Failed(docErr)
		}
		linked += docLinked
		stubs += docStubs

		sc.PublishProgress(float64(i+1)/float64(len(docFiles)+1),
			fmt.Sprintf("%d of %d documents processed", i+1, len(docFiles)),
			map[string]int64{"documents": int64(i + 1), "linked": linked, "stubs": stubs})
	}

	// Symbol docstrings are documentation too, when the AST step ran
	docstringCount, record := s.ingestDocstrings(ctx, sc)
	if record != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled()
		}
		return interfaces.Failed(record)
	}

	counters := map[string]int64{
		"documents":  int64(len(docFiles)),
		"docstrings": docstringCount,
		"linked":     linked,
		"stubs":      stubs,
	}
	sc.PublishProgress(1, "documentation graph complete", counters)

	logger.Info().
		Int("documents", len(docFiles)).
		Int64("docstrings", docstringCount).
		Int64("linked", linked).
		Int64("stubs", stubs).
		Msg("Documentation graphing completed")

	return interfaces.Succeeded()
}

// findDocFiles walks the repository for documentation artifacts
func (s *Step) findDocFiles(ctx context.Context, repoPath string, formats []string) ([]string, error) {
	extensions := make(map[string]bool, len(formats))
	for _, format := range formats {
		extensions[strings.ToLower(format)] = true
	}

	var docs []string
	err := filepath.WalkDir(repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() {
			if name == ".git" || name == "node_modules" || name == "__pycache__" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if extensions[strings.ToLower(filepath.Ext(name))] {
			rel, relErr := filepath.Rel(repoPath, path)
			if relErr != nil {
				return relErr
			}
			docs = append(docs, filepath.ToSlash(rel))
		}
		return nil
	})
	return docs, err
}

// ingestDocument parses one documentation file, writes its Documentation
// node, and links its mentions into the code graph
func (s *Step) ingestDocument(ctx context.Context, sc interfaces.StepContext, link *linker, relPath string) (int64, int64, *models.ErrorRecord) {
	logger := sc.Logger()
	absPath := filepath.Join(sc.RepoPath(), filepath.FromSlash(relPath))

	parsed, err := s.parseByFormat(absPath, relPath)
	if err != nil {
		// A single unparseable document should not sink the whole step
		logger.Warn().Err(err).Str("path", relPath).Msg("Skipping unparseable document")
		return 0, 0, nil
	}

	docID := documentationID("file:" + relPath)
	content := parsed.Text
	if len(content) > maxEmbedChars {
		content = content[:maxEmbedChars]
	}

	embedding, err := s.embeddings.GenerateEmbedding(ctx, parsed.Title+"\n"+content)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, nil
		}
		return 0, 0, models.NewErrorRecord(models.ErrLLM, StepName,
			fmt.Errorf("embedding failed for %s: %w", relPath, err))
	}
	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}

	if _, err := sc.Graph().UpsertNodes(ctx, models.NodeDocumentation, []map[string]any{{
		"id":        docID,
		"title":     parsed.Title,
		"path":      "/" + relPath,
		"source":    "file",
		"content":   content,
		"embedding": vector,
	}}); err != nil {
		return 0, 0, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
	}

	var edges []models.GraphEdge
	var stubRows []map[string]any
	var linked, stubs int64

	// Inline code spans are strong mentions: resolved ones get
	// DOCUMENTED_BY from the code node to this document
	for _, mention := range parsed.Identifiers {
		target := link.resolve(mention)
		if target != nil {
			edges = append(edges, models.GraphEdge{
				Type:      models.EdgeDocumentedBy,
				FromLabel: target.Label,
				FromKey:   identityKey(target),
				ToLabel:   models.NodeDocumentation,
				ToKey:     map[string]any{"id": docID},
			})
			linked++
			continue
		}
		if int(stubs) >= maxStubsPerDoc {
			continue
		}
		stubID := documentationID("stub:" + docID + ":" + mention)
		stubRows = append(stubRows, map[string]any{
			"id":   stubID,
			"name": mention,
			"doc":  docID,
		})
		edges = append(edges, models.GraphEdge{
			Type:      models.EdgeReferences,
			FromLabel: models.NodeDocumentation,
			FromKey:   map[string]any{"id": docID},
			ToLabel:   models.NodeDocumentationEntity,
			ToKey:     map[string]any{"id": stubID},
		})
		stubs++
	}

	// Link destinations usually point at files
	for _, dest := range parsed.Links {
		if strings.Contains(dest, "://") {
			continue
		}
		target := link.resolve(strings.Split(dest, "#")[0])
		if target == nil {
			continue
		}
		edges = append(edges, models.GraphEdge{
			Type:      models.EdgeReferences,
			FromLabel: models.NodeDocumentation,
			FromKey:   map[string]any{"id": docID},
			ToLabel:   target.Label,
			ToKey:     identityKey(target),
		})
		linked++
	}

	if len(stubRows) > 0 {
		if _, err := sc.Graph().UpsertNodes(ctx, models.NodeDocumentationEntity, stubRows); err != nil {
			return 0, 0, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
		}
	}
	if len(edges) > 0 {
		if _, err := sc.Graph().UpsertEdges(ctx, edges); err != nil {
			return 0, 0, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
		}
	}

	return linked, stubs, nil
}

// ingestDocstrings turns symbol docstrings into Documentation nodes linked
// directly to their entities
func (s *Step) ingestDocstrings(ctx context.Context, sc interfaces.StepContext) (int64, *models.ErrorRecord) {
	var count int64
	for _, label := range []string{models.NodeModule, models.NodeClass, models.NodeFunction} {
		query := fmt.Sprintf(
			"MATCH (n:%s) WHERE n.docstring IS NOT NULL AND n.docstring <> '' RETURN n.qualified_name AS qualified_name, n.docstring AS docstring",
			label,
		)
		rows, err := sc.Graph().ExecuteRead(ctx, query, nil)
		if err != nil {
			return count, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
		}

		for _, row := range rows {
			if ctx.Err() != nil {
				return count, nil
			}
			qname := stringVal(row, "qualified_name")
			docstring := stringVal(row, "docstring")
			if qname == "" || docstring == "" {
				continue
			}

			docID := documentationID("docstring:" + qname)
			embedding, err := s.embeddings.GenerateEmbedding(ctx, docstring)
			if err != nil {
				if ctx.Err() != nil {
					return count, nil
				}
				return count, models.NewErrorRecord(models.ErrLLM, StepName,
					fmt.Errorf("embedding failed for docstring of %s: %w", qname, err))
			}
			vector := make([]float64, len(embedding))
			for i, v := range embedding {
				vector[i] = float64(v)
			}

			if _, err := sc.Graph().UpsertNodes(ctx, models.NodeDocumentation, []map[string]any{{
				"id":        docID,
				"title":     qname,
				"source":    "docstring",
				"content":   docstring,
				"embedding": vector,
			}}); err != nil {
				return count, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
			}

			if _, err := sc.Graph().UpsertEdges(ctx, []models.GraphEdge{{
				Type:      models.EdgeDocumentedBy,
				FromLabel: label,
				FromKey:   map[string]any{"qualified_name": qname},
				ToLabel:   models.NodeDocumentation,
				ToKey:     map[string]any{"id": docID},
			}}); err != nil {
				return count, models.NewErrorRecord(models.ErrTransientGraph, StepName, err)
			}
			count++
		}
	}
	return count, nil
}

// parseByFormat dispatches on file extension
func (s *Step) parseByFormat(absPath, relPath string) (*parsedDoc, error) {
	ext := strings.ToLower(filepath.Ext(relPath))
	switch ext {
	case ".pdf":
		return parsePDF(absPath)
	case ".html", ".htm":
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, err
		}
		return parseHTML(data)
	case ".md", ".markdown":
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, err
		}
		return parseMarkdown(data)
	default:
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, err
		}
		return parsePlainText(data), nil
	}
}

// identityKey builds the MERGE key map for a resolved target
func identityKey(target *codeTarget) map[string]any {
	if target.Label == models.NodeFile {
		return map[string]any{"path": target.QualifiedName}
	}
	return map[string]any{"qualified_name": target.QualifiedName}
}

// documentationID derives a stable node ID so reruns merge instead of
// duplicating
func documentationID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("doc_%x", sum[:8])
}
