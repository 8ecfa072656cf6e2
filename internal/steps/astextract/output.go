// -----------------------------------------------------------------------
// Output Parser - Decodes the extractor's JSONL symbol stream
// -----------------------------------------------------------------------

package astextract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/codestory/internal/models"
)

// symbolRecord is one line of the extractor's output stream
type symbolRecord struct {
	Kind       string         `json:"kind"` // "node" or "edge"
	Label      string         `json:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	Type      string         `json:"type,omitempty"`
	FromLabel string         `json:"from_label,omitempty"`
	From      map[string]any `json:"from,omitempty"`
	ToLabel   string         `json:"to_label,omitempty"`
	To        map[string]any `json:"to,omitempty"`
}

// symbolStream is the decoded extractor output, nodes grouped by label
type symbolStream struct {
	nodes map[string][]map[string]any
	edges []models.GraphEdge
}

var allowedNodeLabels = map[string]bool{
	models.NodeModule:   true,
	models.NodeClass:    true,
	models.NodeFunction: true,
}

var allowedEdgeTypes = map[string]bool{
	models.EdgeImports:      true,
	models.EdgeCalls:        true,
	models.EdgeInheritsFrom: true,
	models.EdgeDefines:      true,
	models.EdgeContains:     true,
}

// parseSymbolStream decodes the JSONL stream, validating labels, edge types,
// and identity properties. Any malformed line fails the parse: a truncated
// stream must not half-populate the graph.
func parseSymbolStream(r io.Reader) (*symbolStream, error) {
	stream := &symbolStream{
		nodes: make(map[string][]map[string]any),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record symbolRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("malformed extractor output at line %d: %w", lineNo, err)
		}

		switch record.Kind {
		case "node":
			if !allowedNodeLabels[record.Label] {
				return nil, fmt.Errorf("unexpected node label %q at line %d", record.Label, lineNo)
			}
			if err := requireIdentity(record.Label, record.Properties); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			stream.nodes[record.Label] = append(stream.nodes[record.Label], record.Properties)

		case "edge":
			if !allowedEdgeTypes[record.Type] {
				return nil, fmt.Errorf("unexpected edge type %q at line %d", record.Type, lineNo)
			}
			if len(record.From) == 0 || len(record.To) == 0 {
				return nil, fmt.Errorf("edge at line %d missing endpoint identity", lineNo)
			}
			stream.edges = append(stream.edges, models.GraphEdge{
				Type:      record.Type,
				FromLabel: record.FromLabel,
				FromKey:   record.From,
				ToLabel:   record.ToLabel,
				ToKey:     record.To,
			})

		default:
			return nil, fmt.Errorf("unexpected record kind %q at line %d", record.Kind, lineNo)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read extractor output: %w", err)
	}

	return stream, nil
}

// requireIdentity checks that a node row carries the label's identity keys
func requireIdentity(label string, props map[string]any) error {
	for _, key := range models.IdentityProperties(label) {
		value, ok := props[key]
		if !ok {
			return fmt.Errorf("node %s missing identity property %s", label, key)
		}
		if s, isString := value.(string); isString && s == "" {
			return fmt.Errorf("node %s has empty identity property %s", label, key)
		}
	}
	return nil
}

// counts summarizes the stream for logging and progress counters
func (s *symbolStream) counts() map[string]int64 {
	result := make(map[string]int64, len(s.nodes)+1)
	for label, rows := range s.nodes {
		result[strings.ToLower(label)+"s"] = int64(len(rows))
	}
	result["edges"] = int64(len(s.edges))
	return result
}
