package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/klauspost/compress/gzip"
)

// sanitizePattern matches every character outside the Cypher-safe bare
// identifier set [A-Za-z0-9_]; each match is collapsed to '_' when deriving
// a node's internal Cypher variable name. Grounded on the same naming rule
// Neo4j itself enforces.
var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ExportCypher serializes g as a sequence of Cypher statements describing
// one FlowGraph node, one FlowNode per graph node, and one relationship per
// graph edge. Statements are returned unjoined, in commit order;
// ExportCypherGzip produces the ';'-joined form.
func ExportCypher(g *flowgraph.Graph, graphID string, updatedAt time.Time) []string {
	statements := make([]string, 0, 1+g.NodeCount()+g.EdgeCount())

	statements = append(statements, fmt.Sprintf(
		"MERGE (g:FlowGraph { graphId: %s, version: %s, nodeCount: %d, edgeCount: %d, updatedAt: %s })",
		quoteString(graphID), quoteString(g.Version), g.NodeCount(), g.EdgeCount(), quoteString(updatedAt.UTC().Format(time.RFC3339Nano)),
	))

	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		statements = append(statements, buildCreateNode(graphID, n))
	}

	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	for _, e := range edges {
		statements = append(statements, buildCreateEdge(graphID, e))
	}

	return statements
}

// ExportCypherGzip joins ExportCypher's statements with ';' and gzip-compresses
// the result, for large graphs where the exporter's caller wants to ship the
// export over a size-constrained channel.
func ExportCypherGzip(g *flowgraph.Graph, graphID string, updatedAt time.Time) ([]byte, error) {
	joined := strings.Join(ExportCypher(g, graphID, updatedAt), ";\n") + ";"

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(joined)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildCreateNode(graphID string, n flowgraph.Node) string {
	varName := "n" + sanitizeIdentifier(n.ID)

	props := map[string]any{
		"id":         n.ID,
		"graphId":    graphID,
		"name":       n.Name,
		"type":       string(n.Type),
		"serviceId":  n.ServiceID,
		"visibility": string(n.Visibility),
		"zoomLevel":  int(n.Zoom),
	}
	for k, v := range n.Metadata {
		props[k] = v
	}

	return fmt.Sprintf("CREATE (%s:FlowNode { %s })", varName, propertyList(props))
}

func buildCreateEdge(graphID string, e flowgraph.Edge) string {
	srcVar := "s" + sanitizeIdentifier(e.SourceID)
	tgtVar := "t" + sanitizeIdentifier(e.TargetID)
	edgeVar := "r" + sanitizeIdentifier(e.ID)

	props := map[string]any{
		"id":             e.ID,
		"executionCount": e.ExecutionCount,
	}
	for k, v := range e.Attributes {
		props[k] = v
	}

	return fmt.Sprintf(
		"MATCH (%s:FlowNode { id: %s, graphId: %s }), (%s:FlowNode { id: %s, graphId: %s }) CREATE (%s)-[%s:%s { %s }]->(%s)",
		srcVar, quoteString(e.SourceID), quoteString(graphID),
		tgtVar, quoteString(e.TargetID), quoteString(graphID),
		srcVar, edgeVar, sanitizeLabel(string(e.Type)), propertyList(props),
		tgtVar,
	)
}

// propertyList renders a property map as a deterministic, comma-separated
// "key: value" list, keys sorted for reproducible output.
func propertyList(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", sanitizeIdentifier(k), quoteValue(props[k])))
	}
	return strings.Join(parts, ", ")
}

// sanitizeIdentifier replaces every character outside [A-Za-z0-9_] with '_',
// producing a value safe for use as a bare Cypher identifier or variable
// name. It never returns the empty string.
func sanitizeIdentifier(s string) string {
	if s == "" {
		return "_"
	}
	return sanitizePattern.ReplaceAllString(s, "_")
}

// sanitizeLabel sanitizes a relationship type the same way, but also upper-
// snake-cases it so generated labels read like the rest of the schema
// (RUNTIME_CALL, not runtime_call).
func sanitizeLabel(s string) string {
	return strings.ToUpper(sanitizeIdentifier(s))
}

func quoteValue(v any) string {
	switch val := v.(type) {
	case string:
		return quoteString(val)
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}
