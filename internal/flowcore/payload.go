package flowcore

import (
	"strings"
	"time"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/flowcore/core/internal/tracebuffer"
	flowerrors "github.com/flowcore/core/pkg/errors"
)

// NodePayload is one node in a submitted static-graph payload.
type NodePayload struct {
	ID   string
	Type string
	Name string
	Data map[string]any
}

// EdgePayload is one edge in a submitted static-graph payload.
type EdgePayload struct {
	ID   string
	From string
	To   string
	Type string
}

// GraphPayload is the submitted static-graph payload (version "1").
type GraphPayload struct {
	Version string
	GraphID string
	Nodes   []NodePayload
	Edges   []EdgePayload
}

var validNodeTypes = map[string]flowgraph.NodeType{
	"ENDPOINT":       flowgraph.NodeEndpoint,
	"TOPIC":          flowgraph.NodeTopic,
	"SERVICE":        flowgraph.NodeService,
	"CLASS":          flowgraph.NodeClass,
	"METHOD":         flowgraph.NodeMethod,
	"PRIVATE_METHOD": flowgraph.NodePrivateMethod,
	"INTERFACE":      flowgraph.NodeInterface,
	"FIELD":          flowgraph.NodeField,
	"CONSTRUCTOR":    flowgraph.NodeConstructor,
}

var validEdgeTypes = map[string]flowgraph.EdgeType{
	"CALL":         flowgraph.EdgeCall,
	"HANDLES":      flowgraph.EdgeHandles,
	"PRODUCES":     flowgraph.EdgeProduces,
	"CONSUMES":     flowgraph.EdgeConsumes,
	"BELONGS_TO":   flowgraph.EdgeBelongsTo,
	"DEFINES":      flowgraph.EdgeDefines,
	"RUNTIME_CALL": flowgraph.EdgeRuntimeCall,
	"DEPENDS_ON":   flowgraph.EdgeDependsOn,
	"FLOWS_TO":     flowgraph.EdgeFlowsTo,
}

var validVisibilities = map[string]flowgraph.Visibility{
	"PUBLIC":          flowgraph.VisibilityPublic,
	"PRIVATE":         flowgraph.VisibilityPrivate,
	"PROTECTED":       flowgraph.VisibilityProtected,
	"PACKAGE_PRIVATE": flowgraph.VisibilityPackagePrivate,
}

// buildGraph validates payload and constructs the corresponding Graph, or
// returns VALIDATION_ERROR for an unknown enumeration value or a missing
// required field.
func buildGraph(payload GraphPayload) (*flowgraph.Graph, error) {
	if payload.GraphID == "" {
		return nil, flowerrors.Validation("flowcore", "submit-static", "graph-id is required")
	}

	g := flowgraph.New(payload.Version)

	for _, np := range payload.Nodes {
		if np.ID == "" {
			return nil, flowerrors.Validation("flowcore", "submit-static", "node id is required")
		}
		nodeType, ok := validNodeTypes[np.Type]
		if !ok {
			return nil, flowerrors.Validation("flowcore", "submit-static", "unknown node type: "+np.Type)
		}

		visibility := flowgraph.VisibilityPublic
		serviceID := deriveServiceID(np.ID)
		if np.Data != nil {
			if raw, ok := np.Data["visibility"].(string); ok && raw != "" {
				v, ok := validVisibilities[raw]
				if !ok {
					return nil, flowerrors.Validation("flowcore", "submit-static", "unknown visibility: "+raw)
				}
				visibility = v
			}
			if raw, ok := np.Data["service-id"].(string); ok && raw != "" {
				serviceID = raw
			}
		}

		g.AddNode(flowgraph.Node{
			ID:         np.ID,
			Name:       np.Name,
			Type:       nodeType,
			ServiceID:  serviceID,
			Visibility: visibility,
			Metadata:   np.Data,
		})
	}

	for _, ep := range payload.Edges {
		edgeType, ok := validEdgeTypes[ep.Type]
		if !ok {
			return nil, flowerrors.Validation("flowcore", "submit-static", "unknown edge type: "+ep.Type)
		}
		if err := g.AddEdge(flowgraph.Edge{ID: ep.ID, SourceID: ep.From, TargetID: ep.To, Type: edgeType}); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// deriveServiceID takes the prefix of a node-id up to its first '.' or '/'
// as the default service-id when the submitter leaves it unspecified.
func deriveServiceID(nodeID string) string {
	if i := strings.IndexAny(nodeID, "./"); i > 0 {
		return nodeID[:i]
	}
	return nodeID
}

// EventPayload is one event in a submitted runtime-event batch.
type EventPayload struct {
	EventID       string
	Type          string
	Timestamp     time.Time
	NodeID        string
	SpanID        string
	ParentSpanID  string
	DurationMS    float64
	CorrelationID string
	ErrorMessage  string
	ErrorType     string
	Attributes    map[string]any
}

// RuntimePayload is the submitted runtime-event payload.
type RuntimePayload struct {
	GraphID       string
	TraceID       string
	Events        []EventPayload
	TraceComplete bool
}

var validEventTypes = map[string]tracebuffer.EventType{
	"METHOD_ENTER":  tracebuffer.EventMethodEnter,
	"METHOD_EXIT":   tracebuffer.EventMethodExit,
	"START":         tracebuffer.EventMethodEnter,
	"END":           tracebuffer.EventMethodExit,
	"PRODUCE_TOPIC": tracebuffer.EventProduceTopic,
	"CONSUME_TOPIC": tracebuffer.EventConsumeTopic,
	"CHECKPOINT":    tracebuffer.EventCheckpoint,
	"ERROR":         tracebuffer.EventError,
}

// buildEvents validates and converts a runtime-event payload into the
// tracebuffer's Event type.
func buildEvents(payload RuntimePayload) ([]tracebuffer.Event, error) {
	if payload.TraceID == "" || payload.GraphID == "" {
		return nil, flowerrors.Validation("flowcore", "submit-runtime", "trace-id and graph-id are required")
	}

	events := make([]tracebuffer.Event, 0, len(payload.Events))
	for _, ep := range payload.Events {
		eventType, ok := validEventTypes[ep.Type]
		if !ok {
			return nil, flowerrors.Validation("flowcore", "submit-runtime", "unknown event type: "+ep.Type)
		}
		events = append(events, tracebuffer.Event{
			EventID:       ep.EventID,
			SpanID:        ep.SpanID,
			ParentSpanID:  ep.ParentSpanID,
			Timestamp:     ep.Timestamp,
			Type:          eventType,
			NodeID:        ep.NodeID,
			DurationMS:    ep.DurationMS,
			CorrelationID: ep.CorrelationID,
			ErrorMessage:  ep.ErrorMessage,
			ErrorType:     ep.ErrorType,
			Attributes:    ep.Attributes,
		})
	}
	return events, nil
}
