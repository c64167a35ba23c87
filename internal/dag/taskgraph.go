package dag

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

type edgeIndex struct {
	from int
	to   int
}

// TaskGraph is an immutable, validated set of tasks and composition references.
//
// It is safe for concurrent read access.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode // canonical order (by name)

	outgoing [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index

	hash GraphHash
}

// NewTaskGraph builds and validates a TaskGraph.
//
// Validation runs immediately and rejects:
//   - empty or duplicate task names
//   - leaf tasks without work and composites without children
//   - references to unknown tasks
//   - self references
//   - any cycle (direct or indirect)
//
// A composite may list the same child more than once; the child then runs once
// per listing, but the graph keeps a single edge for it.
func NewTaskGraph(tasks []*TaskNode) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByName := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))
	for _, t := range tasks {
		if t == nil || t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, duplicatef("task %q is already registered", t.Name)
		}
		switch t.Mode {
		case ModeTask:
			if t.Work == nil {
				return nil, invalidf("task %q has nil work", t.Name)
			}
		case ModeSeries, ModeParallel:
			if len(t.Children) == 0 {
				return nil, invalidf("%s task %q has no children", t.Mode, t.Name)
			}
		default:
			return nil, invalidf("task %q has unknown mode %q", t.Name, t.Mode)
		}
		cp := *t
		cp.Children = append([]string(nil), t.Children...)
		nodesByName[t.Name] = &cp
		nodes = append(nodes, &cp)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	seen := make(map[edgeIndex]struct{})
	var mapped []edgeIndex
	for _, n := range nodes {
		for _, child := range n.Children {
			c, ok := nodesByName[child]
			if !ok {
				return nil, unknownf("task %q references unknown task %q", n.Name, child)
			}
			if c.Name == n.Name {
				return nil, invalidf("self-reference: %q -> %q", n.Name, child)
			}
			pair := edgeIndex{from: n.canonicalIndex, to: c.canonicalIndex}
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			mapped = append(mapped, pair)
		}
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		indeg[e.to]++
	}

	g := &TaskGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		outgoing:    outgoing,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the stable identity for this graph.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *TaskGraph) Nodes() []*TaskNode {
	out := make([]*TaskNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Roots returns the names of tasks no composite refers to, in canonical order.
// These are the entry points a user is expected to invoke.
func (g *TaskGraph) Roots() []string {
	var out []string
	for i, n := range g.nodes {
		if g.indeg[i] == 0 {
			out = append(out, n.Name)
		}
	}
	return out
}

func (g *TaskGraph) computeGraphHash() GraphHash {
	sum := sha256.Sum256(g.canonicalBytes())
	return GraphHash(hex.EncodeToString(sum[:]))
}

// canonicalBytes encodes the graph as length-prefixed fields. Counts are
// written as fixed 8-byte big-endian integers.
func (g *TaskGraph) canonicalBytes() []byte {
	var buf bytes.Buffer
	var num [8]byte
	writeCount := func(n int) {
		binary.BigEndian.PutUint64(num[:], uint64(n))
		buf.Write(num[:])
	}
	writeField := func(data string) {
		writeCount(len(data))
		buf.WriteString(data)
	}

	writeCount(len(g.nodes))
	for _, n := range g.nodes {
		writeField(n.Name)
		writeField(string(n.Mode))
		// Child order is semantic for series, so it is hashed as declared.
		writeCount(len(n.Children))
		for _, c := range n.Children {
			writeField(c)
		}
	}
	return buf.Bytes()
}
