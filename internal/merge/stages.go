// Package merge implements record C6: the staged, idempotent transformation
// that folds one completed trace into a graph snapshot, producing a new
// graph snapshot, followed by zoom-level assignment and validation.
package merge

import (
	"fmt"

	"github.com/flowcore/core/internal/flowgraph"
	"github.com/flowcore/core/internal/tracebuffer"
)

// Stage is one step of the merge pipeline. Stages run in a fixed order. A
// stage on its own is not idempotent (running it twice with the same trace
// counts that trace twice); Apply makes the whole pipeline idempotent by
// skipping a trace the graph has already recorded as merged.
type Stage interface {
	Name() string
	Apply(g *flowgraph.Graph, t tracebuffer.Trace)
}

// Pipeline is the fixed ordered sequence of stages spec.md §4.6 names.
func Pipeline() []Stage {
	return []Stage{
		runtimeNodeStage{},
		runtimeEdgeStage{},
		durationStage{},
		checkpointStage{},
		asyncHopStage{},
		errorStage{},
	}
}

// runtimeNodeStage adds a synthetic node for every event whose node-id is
// absent from the graph. Existing nodes are never overwritten.
type runtimeNodeStage struct{}

func (runtimeNodeStage) Name() string { return "runtime-node" }

func (runtimeNodeStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	for _, ev := range t.Events {
		if ev.NodeID == "" {
			continue
		}
		if _, ok := g.GetNode(ev.NodeID); ok {
			continue
		}
		g.AddNode(flowgraph.Node{
			ID:         ev.NodeID,
			Name:       ev.NodeID,
			Type:       flowgraph.NodeMethod,
			Visibility: flowgraph.VisibilityPublic,
			Zoom:       flowgraph.ZoomRuntime,
		})
	}
}

// isControlTransferPair reports whether the ordered pair (a, b) represents
// a control transfer per spec.md §4.6: two consecutive METHOD_ENTER events,
// or two consecutive CHECKPOINT events.
func isControlTransferPair(a, b tracebuffer.Event) bool {
	if a.Type == tracebuffer.EventMethodEnter && b.Type == tracebuffer.EventMethodEnter {
		return true
	}
	if a.Type == tracebuffer.EventCheckpoint && b.Type == tracebuffer.EventCheckpoint {
		return true
	}
	return false
}

// runtimeEdgeStage adds a RUNTIME_CALL edge for ordered event pairs that
// represent a control transfer, if no edge of any type already connects
// that ordered pair; execution-count is incremented for every such pair
// regardless of whether the edge already existed.
type runtimeEdgeStage struct{}

func (runtimeEdgeStage) Name() string { return "runtime-edge" }

func (runtimeEdgeStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	for i := 1; i < len(t.Events); i++ {
		prev, cur := t.Events[i-1], t.Events[i]
		if !isControlTransferPair(prev, cur) {
			continue
		}
		if prev.NodeID == "" || cur.NodeID == "" || prev.NodeID == cur.NodeID {
			continue
		}

		edgeID := existingEdgeBetween(g, prev.NodeID, cur.NodeID)
		if edgeID == "" {
			edgeID = fmt.Sprintf("runtime-call:%s->%s", prev.NodeID, cur.NodeID)
			_ = g.AddEdge(flowgraph.Edge{
				ID:       edgeID,
				SourceID: prev.NodeID,
				TargetID: cur.NodeID,
				Type:     flowgraph.EdgeRuntimeCall,
			})
		}
		g.IncrementExecutionCount(edgeID, 1)
	}
}

// existingEdgeBetween returns the id of any edge (of any type) whose
// source is fromID and target is toID, or "" if none exists.
func existingEdgeBetween(g *flowgraph.Graph, fromID, toID string) string {
	for _, edgeID := range g.Outgoing(fromID) {
		e, ok := g.GetEdge(edgeID)
		if ok && e.TargetID == toID {
			return e.ID
		}
	}
	return ""
}

// durationStage folds METHOD_EXIT events with a matching METHOD_ENTER (same
// span-id, enter before or at exit) into a running average stored on the
// target node's metadata.
type durationStage struct{}

func (durationStage) Name() string { return "duration" }

func (durationStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	enters := make(map[string]tracebuffer.Event) // span-id -> ENTER event
	for _, ev := range t.Events {
		switch ev.Type {
		case tracebuffer.EventMethodEnter:
			enters[ev.SpanID] = ev
		case tracebuffer.EventMethodExit:
			enter, ok := enters[ev.SpanID]
			if !ok || enter.Timestamp.After(ev.Timestamp) {
				continue
			}
			duration := ev.Timestamp.Sub(enter.Timestamp).Seconds() * 1000
			recordDuration(g, ev.NodeID, duration)
		}
	}
}

func recordDuration(g *flowgraph.Graph, nodeID string, durationMS float64) {
	n, ok := g.GetNode(nodeID)
	if !ok {
		return
	}
	count := metadataInt(n.Metadata, "executionCount")
	prevAvg := metadataFloat(n.Metadata, "duration")

	newCount := count + 1
	newAvg := (prevAvg*float64(count) + durationMS) / float64(newCount)

	g.SetMetadata(nodeID, "duration", newAvg)
	g.SetMetadata(nodeID, "executionCount", newCount)
}

func metadataInt(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func metadataFloat(m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// checkpointStage appends each CHECKPOINT event's (name, timestamp, data)
// to the target node's metadata, in order.
type checkpointStage struct{}

func (checkpointStage) Name() string { return "checkpoint" }

func (checkpointStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	for _, cp := range t.Checkpoints {
		n, ok := g.GetNode(cp.NodeID)
		if !ok {
			continue
		}
		existing, _ := n.Metadata["checkpoints"].([]map[string]any)
		existing = append(existing, map[string]any{
			"name":      cp.Name,
			"timestamp": cp.Timestamp,
			"data":      cp.Data,
		})
		g.SetMetadata(cp.NodeID, "checkpoints", existing)
	}
}

// asyncHopStage records a correlation-id-matched produce/consume pair as an
// attribute on the producing edge and, if none exists, adds a derived
// FLOWS_TO edge between producer and consumer.
type asyncHopStage struct{}

func (asyncHopStage) Name() string { return "async-hop" }

func (asyncHopStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	for _, hop := range t.AsyncHops {
		if hop.ProducerNode == "" || hop.ConsumerNode == "" {
			continue
		}
		if produceEdge := findProduceEdge(g, hop.ProducerNode); produceEdge != "" {
			g.SetEdgeAttribute(produceEdge, "asyncHopCorrelationID", hop.CorrelationID)
			g.SetEdgeAttribute(produceEdge, "asyncHopConsumer", hop.ConsumerNode)
		}

		if existingEdgeBetween(g, hop.ProducerNode, hop.ConsumerNode) != "" {
			continue
		}
		edgeID := fmt.Sprintf("flows-to:%s->%s:%s", hop.ProducerNode, hop.ConsumerNode, hop.CorrelationID)
		_ = g.AddEdge(flowgraph.Edge{
			ID:       edgeID,
			SourceID: hop.ProducerNode,
			TargetID: hop.ConsumerNode,
			Type:     flowgraph.EdgeFlowsTo,
		})
	}
}

func findProduceEdge(g *flowgraph.Graph, producerNodeID string) string {
	for _, edgeID := range g.Outgoing(producerNodeID) {
		e, ok := g.GetEdge(edgeID)
		if ok && e.Type == flowgraph.EdgeProduces {
			return edgeID
		}
	}
	return ""
}

// errorStage increments the target node's error count and records the most
// recent error's message and class.
type errorStage struct{}

func (errorStage) Name() string { return "error" }

func (errorStage) Apply(g *flowgraph.Graph, t tracebuffer.Trace) {
	for _, errRec := range t.Errors {
		n, ok := g.GetNode(errRec.NodeID)
		if !ok {
			continue
		}
		count := metadataInt(n.Metadata, "errorCount")
		g.SetMetadata(errRec.NodeID, "errorCount", count+1)
		g.SetMetadata(errRec.NodeID, "lastError", map[string]any{
			"message": errRec.Message,
			"type":    errRec.ErrorType,
		})
	}
}
