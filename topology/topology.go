// Package topology assigns every job node a layer index: the smallest
// index strictly greater than every predecessor's layer. It
// also detects cycles, which the graph builder does not rule out on its
// own (a blueprint can still describe one through artifact references).
package topology

import (
	"sort"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/graph"
)

// Layers is the result of Compute: every node's assigned
// layer, and the total number of layers in the full topology.
type Layers struct {
	Assignments map[string]int
	LayerCount  int
}

// Compute assigns layers to every node in g by Kahn-style longest path:
// a node's layer is one greater than the maximum layer of its
// predecessors, or 0 if it has none. Returns a CycleDetected error if g is
// not a DAG; the error names the lexicographically first job left
// unresolved, which lies on or downstream of a cycle, not a cycle edge.
func Compute(g *graph.ProducerGraph) (Layers, error) {
	indegree := make(map[string]int, len(g.Nodes))
	predecessors := make(map[string][]string, len(g.Nodes))
	successors := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.JobID] = 0
	}
	for _, e := range g.Edges {
		indegree[e.To]++
		predecessors[e.To] = append(predecessors[e.To], e.From)
		successors[e.From] = append(successors[e.From], e.To)
	}

	layer := make(map[string]int, len(g.Nodes))

	var queue []string
	for _, n := range g.Nodes {
		if indegree[n.JobID] == 0 {
			queue = append(queue, n.JobID)
			layer[n.JobID] = 0
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		next := append([]string(nil), successors[id]...)
		sort.Strings(next)
		for _, succ := range next {
			if l := layer[id] + 1; l > layer[succ] {
				layer[succ] = l
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
				sort.Strings(queue)
			}
		}
	}

	if visited != len(g.Nodes) {
		return Layers{}, engineerr.New(engineerr.CycleDetected, "job graph contains a cycle: %s", firstUnresolved(indegree))
	}

	layerCount := 0
	for _, l := range layer {
		if l+1 > layerCount {
			layerCount = l + 1
		}
	}

	return Layers{Assignments: layer, LayerCount: layerCount}, nil
}

func firstUnresolved(indegree map[string]int) string {
	ids := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "unknown"
	}
	return ids[0]
}
