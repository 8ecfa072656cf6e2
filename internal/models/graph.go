// -----------------------------------------------------------------------
// Graph Schema - Node labels, edge types, and identity keys
// -----------------------------------------------------------------------

package models

// Node labels written by pipeline steps
const (
	NodeFile                = "File"
	NodeDirectory           = "Directory"
	NodeModule              = "Module"
	NodeClass               = "Class"
	NodeFunction            = "Function"
	NodeSummary             = "Summary"
	NodeDocumentation       = "Documentation"
	NodeDocumentationEntity = "DocumentationEntity"
)

// Edge types written by pipeline steps
const (
	EdgeContains     = "CONTAINS"
	EdgeImports      = "IMPORTS"
	EdgeCalls        = "CALLS"
	EdgeInheritsFrom = "INHERITS_FROM"
	EdgeDefines      = "DEFINES"
	EdgeDocumentedBy = "DOCUMENTED_BY"
	EdgeSummarizedBy = "SUMMARIZED_BY"
	EdgeReferences   = "REFERENCES"
)

// EmbeddingDimension is the vector size for Summary and Documentation embeddings
const EmbeddingDimension = 1536

// IdentityProperties returns the property set that uniquely identifies a
// node of the given label. Upserts MERGE on these; all other properties are
// set on create and updated on match.
func IdentityProperties(label string) []string {
	switch label {
	case NodeFile, NodeDirectory:
		return []string{"path"}
	case NodeModule, NodeClass, NodeFunction:
		// Class and Function identity is (name, module) folded into a
		// qualified name so a single-property constraint can enforce it.
		return []string{"qualified_name"}
	case NodeSummary, NodeDocumentation, NodeDocumentationEntity:
		return []string{"id"}
	default:
		return nil
	}
}

// AllNodeLabels enumerates every label the schema bootstrap manages
func AllNodeLabels() []string {
	return []string{
		NodeFile,
		NodeDirectory,
		NodeModule,
		NodeClass,
		NodeFunction,
		NodeSummary,
		NodeDocumentation,
		NodeDocumentationEntity,
	}
}

// VectorIndex describes one cosine-similarity index the schema bootstrap creates
type VectorIndex struct {
	Name     string
	Label    string
	Property string
}

// VectorIndexes enumerates the vector indexes the schema bootstrap manages
func VectorIndexes() []VectorIndex {
	return []VectorIndex{
		{Name: "summary_embedding", Label: NodeSummary, Property: "embedding"},
		{Name: "documentation_embedding", Label: NodeDocumentation, Property: "embedding"},
	}
}

// GraphEdge is a row for a batched edge upsert between existing nodes
type GraphEdge struct {
	Type      string
	FromLabel string
	FromKey   map[string]any // Identity properties of the source node
	ToLabel   string
	ToKey     map[string]any // Identity properties of the target node
	Props     map[string]any
}
