package plan

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// BuildGraph indexes tasks, fills each task's Dependents from the dependency
// lists and assigns execution levels. Tasks keep their emission order inside
// each level.
func BuildGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Task, len(tasks)),
		Edges: make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		if _, dup := g.Nodes[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s", t.ID)
		}
		g.Nodes[t.ID] = t
		g.Edges[t.ID] = nil
		t.Dependents = nil
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			parent, ok := g.Nodes[dep]
			if !ok {
				return nil, fmt.Errorf("task %s depends on %s: %w", t.ID, dep, ErrUnknownTask)
			}
			parent.Dependents = append(parent.Dependents, t.ID)
			g.Edges[dep] = append(g.Edges[dep], t.ID)
		}
	}

	levels, err := assignLevels(tasks)
	if err != nil {
		return nil, err
	}
	g.Levels = levels
	return g, nil
}

// assignLevels extracts frontiers until every task is placed. A task joins a
// frontier once all its dependencies sit in earlier frontiers.
func assignLevels(tasks []*Task) ([][]string, error) {
	placed := make(map[string]bool, len(tasks))
	var levels [][]string

	for len(placed) < len(tasks) {
		var frontier []string
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				frontier = append(frontier, t.ID)
			}
		}
		if len(frontier) == 0 {
			var stuck []string
			for _, t := range tasks {
				if !placed[t.ID] {
					stuck = append(stuck, t.ID)
				}
			}
			return nil, fmt.Errorf("%w: placed %d of %d tasks, unleveled: %s",
				ErrCycleDetected, len(placed), len(tasks), strings.Join(stuck, ", "))
		}
		for _, id := range frontier {
			placed[id] = true
		}
		levels = append(levels, frontier)
	}

	idx := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		idx[t.ID] = t
	}
	for depth, ids := range levels {
		for _, id := range ids {
			idx[id].Level = depth
		}
	}
	return levels, nil
}

// executionOrder copies the levels with each level sorted by descending
// priority; equal priorities keep emission order.
func executionOrder(g *Graph) [][]string {
	order := make([][]string, len(g.Levels))
	for i, ids := range g.Levels {
		lvl := slices.Clone(ids)
		slices.SortStableFunc(lvl, func(a, b string) int {
			return int(g.Nodes[b].Priority) - int(g.Nodes[a].Priority)
		})
		order[i] = lvl
	}
	return order
}

// criticalPath finds the longest-duration dependency chain with one pass over
// the levels: best(t) = est(t) + max best(dep).
func criticalPath(tasks []*Task, g *Graph) ([]string, time.Duration) {
	pos := make(map[string]int, len(tasks))
	for i, t := range tasks {
		pos[t.ID] = i
	}
	best := make(map[string]time.Duration, len(tasks))
	pred := make(map[string]string, len(tasks))

	for _, ids := range g.Levels {
		for _, id := range ids {
			t := g.Nodes[id]
			var longest time.Duration
			via := ""
			for _, dep := range t.Dependencies {
				d := best[dep]
				if via == "" || d > longest || (d == longest && pos[dep] < pos[via]) {
					longest, via = d, dep
				}
			}
			best[id] = t.EstimatedTime + longest
			if via != "" {
				pred[id] = via
			}
		}
	}

	end := ""
	for _, t := range tasks {
		if end == "" || best[t.ID] > best[end] {
			end = t.ID
		}
	}
	if end == "" {
		return nil, 0
	}

	var path []string
	for id := end; id != ""; id = pred[id] {
		path = append(path, id)
	}
	slices.Reverse(path)
	return path, best[end]
}

// totalTime sums the longest estimate of each level.
func totalTime(g *Graph) time.Duration {
	var total time.Duration
	for _, ids := range g.Levels {
		var longest time.Duration
		for _, id := range ids {
			if est := g.Nodes[id].EstimatedTime; est > longest {
				longest = est
			}
		}
		total += longest
	}
	return total
}
