package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

// UpsertNodes merges nodes by the label's identity properties. Remaining
// fields are set on create and updated on match, so re-running an ingestion
// over unchanged content is a no-op.
func (s *Store) UpsertNodes(ctx context.Context, label string, rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query, err := buildNodeUpsert(label)
	if err != nil {
		return 0, err
	}

	result, err := s.ExecuteWrite(ctx, query, map[string]any{"rows": rows})
	if err != nil {
		return 0, err
	}

	return countFromRows(result), nil
}

// UpsertEdges merges edges between existing nodes. Edges are grouped by
// (type, from label, to label) so each group runs as one UNWIND statement
// inside a single transaction. Missing endpoints are skipped, never created.
func (s *Store) UpsertEdges(ctx context.Context, edges []models.GraphEdge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	groups := make(map[string][]models.GraphEdge)
	var order []string
	for _, edge := range edges {
		key := edge.Type + "|" + edge.FromLabel + "|" + edge.ToLabel
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], edge)
	}

	statements := make([]interfaces.Statement, 0, len(groups))
	for _, key := range order {
		group := groups[key]
		query, params, err := buildEdgeUpsert(group[0], group)
		if err != nil {
			return 0, err
		}
		statements = append(statements, interfaces.Statement{Query: query, Params: params})
	}

	results, err := s.ExecuteBatch(ctx, statements, true)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, rows := range results {
		total += countFromRows(rows)
	}
	return total, nil
}

// buildNodeUpsert builds the MERGE statement for a node label.
// Rows carry identity properties at the top level alongside the rest.
func buildNodeUpsert(label string) (string, error) {
	if err := validateIdentifier(label); err != nil {
		return "", err
	}
	keys := models.IdentityProperties(label)
	if len(keys) == 0 {
		return "", fmt.Errorf("%s: no identity properties for label %s", models.ErrSchema, label)
	}

	mergeProps := make([]string, len(keys))
	for i, key := range keys {
		mergeProps[i] = fmt.Sprintf("%s: row.%s", key, key)
	}

	return fmt.Sprintf(
		"UNWIND $rows AS row\nMERGE (n:%s {%s})\nSET n += row\nRETURN count(n) AS count",
		label, strings.Join(mergeProps, ", "),
	), nil
}

// buildEdgeUpsert builds the MERGE statement for a group of same-shaped edges
func buildEdgeUpsert(prototype models.GraphEdge, group []models.GraphEdge) (string, map[string]any, error) {
	for _, name := range []string{prototype.Type, prototype.FromLabel, prototype.ToLabel} {
		if err := validateIdentifier(name); err != nil {
			return "", nil, err
		}
	}

	fromKeys := sortedKeys(prototype.FromKey)
	toKeys := sortedKeys(prototype.ToKey)
	if len(fromKeys) == 0 || len(toKeys) == 0 {
		return "", nil, fmt.Errorf("%s: edge %s missing endpoint identity", models.ErrSchema, prototype.Type)
	}

	fromProps := make([]string, len(fromKeys))
	for i, key := range fromKeys {
		fromProps[i] = fmt.Sprintf("%s: row.from_%s", key, key)
	}
	toProps := make([]string, len(toKeys))
	for i, key := range toKeys {
		toProps[i] = fmt.Sprintf("%s: row.to_%s", key, key)
	}

	query := fmt.Sprintf(
		"UNWIND $rows AS row\nMATCH (a:%s {%s})\nMATCH (b:%s {%s})\nMERGE (a)-[r:%s]->(b)\nSET r += row.props\nRETURN count(r) AS count",
		prototype.FromLabel, strings.Join(fromProps, ", "),
		prototype.ToLabel, strings.Join(toProps, ", "),
		prototype.Type,
	)

	rows := make([]map[string]any, 0, len(group))
	for _, edge := range group {
		row := make(map[string]any, len(edge.FromKey)+len(edge.ToKey)+1)
		for key, value := range edge.FromKey {
			row["from_"+key] = value
		}
		for key, value := range edge.ToKey {
			row["to_"+key] = value
		}
		props := edge.Props
		if props == nil {
			props = map[string]any{}
		}
		row["props"] = props
		rows = append(rows, row)
	}

	return query, map[string]any{"rows": rows}, nil
}

// validateIdentifier rejects label/type strings that cannot be safely
// interpolated into Cypher. Labels come from the models package, but edge
// callers pass their own strings.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%s: empty graph identifier", models.ErrSchema)
	}
	for _, r := range name {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return fmt.Errorf("%s: invalid graph identifier %q", models.ErrSchema, name)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func countFromRows(rows []interfaces.Row) int {
	if len(rows) == 0 {
		return 0
	}
	if value, ok := rows[0]["count"]; ok {
		switch v := value.(type) {
		case int64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}
