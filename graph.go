// Package loadsim provides the domain model for a page-load performance
// simulation: a dependency graph of network requests and CPU tasks derived
// from a recorded page-load trace. We do not carry response bodies since the
// estimated load time should be data independent.
package loadsim

// A NodeKind tells which payload of a Node is meaningful.
type NodeKind int

// NodeKind constants
const (
	NetworkNode NodeKind = iota
	CPUNode
)

// A Request describes a single resource fetch recorded in a network log.
type Request struct {
	RequestID    string
	URL          string
	ConnectionID string
	Scheme       string
	TransferSize int

	// TTFBMs is the recorded server response latency in milliseconds. A
	// negative value means the trace carried no timing data and the
	// simulation falls back to its configured TTFB.
	TTFBMs float64
}

// Secure reports whether the request needs a TLS handshake.
func (r Request) Secure() bool {
	return r.Scheme == "https" || r.Scheme == "wss"
}

// A Task describes a block of main-thread work recorded in a trace.
type Task struct {
	ThreadID   int
	StartTS    float64
	DurationMs float64
}

// A Node is one unit of work in the load dependency graph. It is a pure data
// holder; all timing computation lives in the simulator package.
type Node struct {
	Kind    NodeKind
	Request Request
	Task    Task

	dependencies []*Node
	dependents   []*Node
}

// NewNetworkNode creates a node that represents a resource fetch.
func NewNetworkNode(req Request) *Node {
	return &Node{Kind: NetworkNode, Request: req}
}

// NewCPUNode creates a node that represents serialized main-thread work.
func NewCPUNode(task Task) *Node {
	return &Node{Kind: CPUNode, Task: task}
}

// AddDependency records that n cannot start before dep completes. The edge is
// kept symmetric: dep also lists n as a dependent. Duplicate edges are
// ignored.
func (n *Node) AddDependency(dep *Node) {
	if dep == nil || containsNode(n.dependencies, dep) {
		return
	}

	n.dependencies = append(n.dependencies, dep)
	dep.dependents = append(dep.dependents, n)
}

// AddDependent records that d cannot start before n completes. Equivalent to
// d.AddDependency(n).
func (n *Node) AddDependent(d *Node) {
	if d == nil {
		return
	}

	d.AddDependency(n)
}

// Dependencies returns the nodes that must complete before n can start, in
// the order they were added.
func (n *Node) Dependencies() []*Node {
	return n.dependencies
}

// Dependents returns the nodes that wait for n, in the order they were added.
func (n *Node) Dependents() []*Node {
	return n.dependents
}

func containsNode(nodes []*Node, target *Node) bool {
	for _, node := range nodes {
		if node == target {
			return true
		}
	}

	return false
}

// DiscoverGraph collects every node connected to root, following both edge
// directions so fan-in parents outside the root's subtree are found too. The
// returned order is the deterministic discovery order that the simulator uses
// to break scheduling ties. It fails with a GraphError when the component
// contains a cycle or an asymmetric edge.
func DiscoverGraph(root *Node) ([]*Node, error) {
	if root == nil {
		return nil, &GraphError{Reason: "root node is nil"}
	}

	nodes := []*Node{root}
	seen := map[*Node]bool{root: true}

	for i := 0; i < len(nodes); i++ {
		node := nodes[i]
		for _, next := range node.dependencies {
			if !seen[next] {
				seen[next] = true
				nodes = append(nodes, next)
			}
		}

		for _, next := range node.dependents {
			if !seen[next] {
				seen[next] = true
				nodes = append(nodes, next)
			}
		}
	}

	if err := checkEdgeSymmetry(nodes); err != nil {
		return nil, err
	}

	if err := checkAcyclic(nodes); err != nil {
		return nil, err
	}

	return nodes, nil
}

func checkEdgeSymmetry(nodes []*Node) error {
	for _, node := range nodes {
		for _, dep := range node.dependencies {
			if !containsNode(dep.dependents, node) {
				return &GraphError{Reason: "dependency edge without matching dependent edge"}
			}
		}

		for _, d := range node.dependents {
			if !containsNode(d.dependencies, node) {
				return &GraphError{Reason: "dependent edge without matching dependency edge"}
			}
		}
	}

	return nil
}

// checkAcyclic runs a depth-first traversal over dependency edges with
// in-progress marking, so a malformed graph fails fast instead of hanging the
// simulation.
func checkAcyclic(nodes []*Node) error {
	const (
		white = iota // not visited
		gray         // on the current path
		black        // fully explored
	)

	state := make(map[*Node]int, len(nodes))

	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		state[n] = gray
		for _, dep := range n.dependencies {
			switch state[dep] {
			case gray:
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}

		state[n] = black
		return true
	}

	for _, node := range nodes {
		if state[node] == white && !visit(node) {
			return &GraphError{Reason: "dependency cycle detected"}
		}
	}

	return nil
}
