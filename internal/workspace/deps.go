package workspace

import (
	"errors"
	"sort"

	"github.com/dominikbraun/graph"
)

// depGraph holds import edges: an edge a -> b means a imports b. Vertices of
// closed files are kept while other files still point at them, so reopening
// the file invalidates those importers.
type depGraph struct {
	g graph.Graph[string, string]
}

func newDepGraph() *depGraph {
	return &depGraph{g: graph.New(graph.StringHash, graph.Directed())}
}

func (d *depGraph) ensure(uri string) {
	if err := d.g.AddVertex(uri); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		log.Warningf("failed to add %s to dependency graph: %v", uri, err)
	}
}

// set replaces the outgoing edges of uri.
func (d *depGraph) set(uri string, deps []string) {
	d.ensure(uri)
	for _, old := range d.dependencies(uri) {
		_ = d.g.RemoveEdge(uri, old)
	}
	for _, dep := range deps {
		if dep == uri {
			continue
		}
		d.ensure(dep)
		if err := d.g.AddEdge(uri, dep); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			log.Warningf("failed to record %s -> %s: %v", uri, dep, err)
		}
	}
	d.prune()
}

// remove drops the outgoing edges of uri, and uri itself when nothing
// imports it.
func (d *depGraph) remove(uri string) {
	for _, dep := range d.dependencies(uri) {
		_ = d.g.RemoveEdge(uri, dep)
	}
	d.prune()
}

// prune removes vertices without any edges.
func (d *depGraph) prune() {
	adjacency, err := d.g.AdjacencyMap()
	if err != nil {
		return
	}
	predecessors, err := d.g.PredecessorMap()
	if err != nil {
		return
	}
	for v, out := range adjacency {
		if len(out) == 0 && len(predecessors[v]) == 0 {
			_ = d.g.RemoveVertex(v)
		}
	}
}

// dependencies returns the direct imports of uri, sorted.
func (d *depGraph) dependencies(uri string) []string {
	adjacency, err := d.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(adjacency[uri]))
	for dep := range adjacency[uri] {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// dependents returns every vertex with a path to uri, sorted.
func (d *depGraph) dependents(uri string) []string {
	predecessors, err := d.g.PredecessorMap()
	if err != nil {
		return nil
	}
	seen := map[string]bool{uri: true}
	queue := []string{uri}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for p := range predecessors[cur] {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			queue = append(queue, p)
		}
	}
	sort.Strings(out)
	return out
}
