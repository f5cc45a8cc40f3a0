// Package task manages the subtask dependency DAG and the mutation rules
// that move subtasks through their lifecycle. Graph tracks dependency
// readiness with node/edge/completed maps guarded by one mutex and DFS
// cycle coloring, generalized from a Done/Failed
// status pair to a pending/in_progress/completed/failed set.
package task

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opencoder/swarm/pkg/models"
)

// ErrCycleDetected indicates the dependency edges form a cycle.
var ErrCycleDetected = errors.New("circular dependency detected")

// Graph is a directed acyclic graph of subtask dependencies. Edges point
// from a subtask to the subtasks it depends on ("blocked by").
type Graph struct {
	mu sync.RWMutex

	nodes     map[string]*models.Subtask
	edges     map[string][]string
	completed map[string]bool

	debugLog func(format string, args ...interface{})
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*models.Subtask),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(string, ...interface{}) {},
	}
}

// SetDebugLog installs fn as the graph's verbose tracer.
func (g *Graph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add registers one subtask as a node and wires its declared dependencies
// as edges. Returns an error if a dependency names an unknown subtask or if
// adding the edges would introduce a cycle. Callers registering a batch of
// subtasks that may reference each other out of order should use AddNode
// followed by AddEdges instead, so every node exists before any edge is
// validated against it.
func (g *Graph) Add(t *models.Subtask) error {
	g.mu.Lock()
	g.addNodeLocked(t)
	g.mu.Unlock()

	return g.AddEdges(t.ID, t.Dependencies)
}

// AddNode registers t as a node with no edges. Safe to call for a whole
// batch of interdependent subtasks before any of them call AddEdges, so a
// subtask can depend on another one declared later in the same batch.
func (g *Graph) AddNode(t *models.Subtask) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(t)
}

func (g *Graph) addNodeLocked(t *models.Subtask) {
	g.nodes[t.ID] = t
	if _, ok := g.edges[t.ID]; !ok {
		g.edges[t.ID] = nil
	}
}

// AddEdges wires id's dependency edges to depIDs. Every id in depIDs must
// already be a registered node. Returns an error if a dependency names an
// unknown subtask or if adding the edges would introduce a cycle.
func (g *Graph) AddEdges(id string, depIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, depID := range depIDs {
		if _, exists := g.nodes[depID]; !exists {
			return fmt.Errorf("subtask %s depends on unknown subtask %s", id, depID)
		}
		g.edges[id] = append(g.edges[id], depID)
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle reports whether the graph currently contains a circular
// dependency.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *Graph) hasCycleLocked() bool {
	const white, gray, black = 0, 1, 2
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// GetReady returns the IDs of subtasks whose dependencies are all
// completed and which are not themselves completed or failed.
func (g *Graph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, t := range g.nodes {
		if g.completed[id] {
			continue
		}
		if t.Status == models.StatusCompleted || t.Status == models.StatusFailed {
			continue
		}
		if t.Status == models.StatusInProgress {
			continue
		}

		allDepsDone := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			dep, exists := g.nodes[depID]
			if !exists || dep.Status != models.StatusCompleted {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete records id as completed for the purposes of future GetReady
// calls. The subtask's own Status field is updated by the caller (task
// manager); this just tracks graph-level completion independently so a
// stale Status pointer can't desync readiness.
func (g *Graph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// Get returns the subtask for id, or nil.
func (g *Graph) Get(id string) *models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of registered subtasks.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs that id depends on.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Dependents returns the IDs of subtasks that depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for other, deps := range g.edges {
		for _, depID := range deps {
			if depID == id {
				dependents = append(dependents, other)
				break
			}
		}
	}
	return dependents
}
