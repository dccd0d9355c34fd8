package extractor

import "github.com/flowcore/core/internal/flowgraph"

// FlowStep is one node visited during BFS flow extraction.
type FlowStep struct {
	NodeID        string
	Name          string
	ZoomLevel     flowgraph.ZoomLevel
	Depth         int
	ParentNodeIDs []string
}

// ExtractFlow performs BFS from startNodeID, visiting each reachable node
// at most once, and returns the resulting flow in BFS order. depth is the
// BFS distance from startNodeID; ParentNodeIDs collects every predecessor
// on a minimum-depth path into that node. Iteration order is deterministic:
// edges are walked in the graph's insertion order at each node.
func ExtractFlow(g *flowgraph.Graph, startNodeID string) []FlowStep {
	start, ok := g.GetNode(startNodeID)
	if !ok {
		return nil
	}

	depth := map[string]int{startNodeID: 0}
	parents := map[string][]string{startNodeID: nil}
	order := []string{startNodeID}
	queue := []string{startNodeID}

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		for _, edgeID := range g.Outgoing(nodeID) {
			e, ok := g.GetEdge(edgeID)
			if !ok {
				continue
			}
			targetID := e.TargetID
			nextDepth := depth[nodeID] + 1

			d, seen := depth[targetID]
			switch {
			case !seen:
				depth[targetID] = nextDepth
				parents[targetID] = []string{nodeID}
				order = append(order, targetID)
				queue = append(queue, targetID)
			case d == nextDepth:
				parents[targetID] = append(parents[targetID], nodeID)
			default:
				// not a minimum-depth path into targetID; ignore
			}
		}
	}

	out := make([]FlowStep, 0, len(order))
	for _, id := range order {
		n, ok := g.GetNode(id)
		if !ok {
			continue
		}
		_ = start
		out = append(out, FlowStep{
			NodeID:        id,
			Name:          n.Name,
			ZoomLevel:     n.Zoom,
			Depth:         depth[id],
			ParentNodeIDs: parents[id],
		})
	}
	return out
}

// ExtractFlows runs ExtractFlow from every ENDPOINT or TOPIC node in g,
// keyed by start node-id.
func ExtractFlows(g *flowgraph.Graph) map[string][]FlowStep {
	flows := make(map[string][]FlowStep)
	for _, n := range g.Nodes() {
		if n.Type != flowgraph.NodeEndpoint && n.Type != flowgraph.NodeTopic {
			continue
		}
		flows[n.ID] = ExtractFlow(g, n.ID)
	}
	return flows
}
