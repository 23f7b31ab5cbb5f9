package sequence

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Domain errors
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrNodeExists    = errors.New("node already exists")
	ErrNoRoot        = errors.New("sequence has no root node")
	ErrCycleDetected = errors.New("cycle detected in sequence tree")
)

// Sequence is the aggregate: an identifier-keyed node arena plus tree
// metadata. Nodes reference each other by ID only; there are no pointers
// between nodes, so the tree stays simple to share for concurrent reads
// during a run.
type Sequence struct {
	ID          uuid.UUID           `json:"id"`
	StorageKey  *string             `json:"storageKey,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Nodes       map[uuid.UUID]*Node `json:"nodes"`
	RootID      *uuid.UUID          `json:"rootId,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	ModifiedAt  time.Time           `json:"modifiedAt"`
	IsTemplate  bool                `json:"isTemplate,omitempty"`
	// AuthorEstimateSecs is an optional operator-entered duration estimate,
	// kept alongside the computed one.
	AuthorEstimateSecs *float64 `json:"authorEstimateSecs,omitempty"`
}

// New creates an empty sequence
func New(name string) *Sequence {
	now := time.Now().UTC()
	return &Sequence{
		ID:         uuid.New(),
		Name:       name,
		Nodes:      make(map[uuid.UUID]*Node),
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Node returns a node by ID
func (s *Sequence) Node(id uuid.UUID) (*Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// AddNode inserts a node into the arena
func (s *Sequence) AddNode(n *Node) error {
	if _, exists := s.Nodes[n.ID]; exists {
		return ErrNodeExists
	}
	s.Nodes[n.ID] = n
	s.ModifiedAt = time.Now().UTC()
	return nil
}

// AttachChild links child under parent, keeping order indexes dense
func (s *Sequence) AttachChild(parentID, childID uuid.UUID) error {
	parent, ok := s.Nodes[parentID]
	if !ok {
		return ErrNodeNotFound
	}
	child, ok := s.Nodes[childID]
	if !ok {
		return ErrNodeNotFound
	}

	child.ParentID = &parentID
	child.OrderIndex = len(parent.ChildIDs)
	parent.ChildIDs = append(parent.ChildIDs, childID)
	s.ModifiedAt = time.Now().UTC()
	return nil
}

// Children returns the existing children of a node sorted by order index.
// Dangling child references are skipped; validation reports them separately.
func (s *Sequence) Children(n *Node) []*Node {
	children := make([]*Node, 0, len(n.ChildIDs))
	for _, id := range n.ChildIDs {
		if c, ok := s.Nodes[id]; ok {
			children = append(children, c)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].OrderIndex < children[j].OrderIndex
	})
	return children
}

// Root returns the root node, if set and present
func (s *Sequence) Root() (*Node, bool) {
	if s.RootID == nil {
		return nil, false
	}
	return s.Node(*s.RootID)
}

// MissingChildren returns every child ID referenced by some node but absent
// from the arena. A non-empty result means the tree is malformed.
func (s *Sequence) MissingChildren() []uuid.UUID {
	var missing []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, n := range s.Nodes {
		for _, id := range n.ChildIDs {
			if _, ok := s.Nodes[id]; !ok && !seen[id] {
				seen[id] = true
				missing = append(missing, id)
			}
		}
	}
	return missing
}

// Reachable returns the set of node IDs reachable from the root via
// child references
func (s *Sequence) Reachable() map[uuid.UUID]bool {
	reachable := make(map[uuid.UUID]bool)
	root, ok := s.Root()
	if !ok {
		return reachable
	}

	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[n.ID] {
			continue
		}
		reachable[n.ID] = true
		stack = append(stack, s.Children(n)...)
	}
	return reachable
}

// Orphans returns nodes present in the arena but unreachable from the root.
// Legal, but flagged by validation.
func (s *Sequence) Orphans() []uuid.UUID {
	reachable := s.Reachable()
	var orphans []uuid.UUID
	for id := range s.Nodes {
		if !reachable[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].String() < orphans[j].String()
	})
	return orphans
}

// DetectCycle checks child references for cycles. A parent/child-ID arena
// is a graph, not a guaranteed tree, when authored incorrectly; the
// validator rejects cyclic trees before a run is allowed.
func (s *Sequence) DetectCycle() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[uuid.UUID]int, len(s.Nodes))

	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		switch state[id] {
		case inStack:
			return ErrCycleDetected
		case done:
			return nil
		}
		state[id] = inStack
		if n, ok := s.Nodes[id]; ok {
			for _, childID := range n.ChildIDs {
				if _, exists := s.Nodes[childID]; !exists {
					continue
				}
				if err := visit(childID); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for id := range s.Nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// TargetRoots returns the execution entry points. A multi-target sequence
// has a container root whose TargetHeader children run in priority order
// (descending) then order index; a single-target or plain sequence runs
// from its root directly.
func (s *Sequence) TargetRoots() []*Node {
	root, ok := s.Root()
	if !ok {
		return nil
	}

	if root.Type != TypeTargetHeader {
		var targets []*Node
		for _, c := range s.Children(root) {
			if c.Type == TypeTargetHeader {
				targets = append(targets, c)
			}
		}
		if len(targets) > 0 {
			sort.SliceStable(targets, func(i, j int) bool {
				pi, pj := 0, 0
				if targets[i].Target != nil {
					pi = targets[i].Target.Priority
				}
				if targets[j].Target != nil {
					pj = targets[j].Target.Priority
				}
				if pi != pj {
					return pi > pj
				}
				return targets[i].OrderIndex < targets[j].OrderIndex
			})
			return targets
		}
	}

	return []*Node{root}
}

// Walk visits the live tree pre-order from the root. The visitor returns
// false to prune a subtree. Already-visited nodes are skipped so a cyclic
// arena cannot hang the walk.
func (s *Sequence) Walk(visit func(n *Node, depth int) bool) {
	root, ok := s.Root()
	if !ok {
		return
	}
	seen := make(map[uuid.UUID]bool)

	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		if !visit(n, depth) {
			return
		}
		for _, c := range s.Children(n) {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
}

// EnclosingTarget returns the nearest TargetHeader ancestor of a node
func (s *Sequence) EnclosingTarget(n *Node) (*TargetSpec, bool) {
	seen := make(map[uuid.UUID]bool)
	for n != nil && !seen[n.ID] {
		seen[n.ID] = true
		if n.Type == TypeTargetHeader && n.Target != nil {
			return n.Target, true
		}
		if n.ParentID == nil {
			break
		}
		parent, ok := s.Nodes[*n.ParentID]
		if !ok {
			break
		}
		n = parent
	}
	return nil, false
}
