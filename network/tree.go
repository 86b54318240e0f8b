/*
tree.go - Sponsor tree snapshot, lookup and move validation

PURPOSE:
  The sponsor tree has one node per enrolled user: a parent link and an
  ordered child list (insertion order = enrollment order). This file
  provides the read side (a bounded-TTL cached snapshot for traversal
  endpoints) and the single mutation (relocating a node under a new
  parent) with its cycle guard.

INVARIANTS:
  1. Childs contains no duplicates
  2. A node's Parent link agrees with its parent's Childs membership
  3. The structure is a tree: Move rejects any relocation that would put
     a node under its own descendant
  4. New children always append at the END of Childs (order matters for
     first-leg rank caps)

CACHING:
  Read-heavy traversal endpoints are served from a snapshot cached for a
  bounded TTL (30s). Any mutation invalidates the cache BEFORE returning
  success - stale-cache-during-write is a correctness bug here, not a
  performance tradeoff.

LOOKUP:
  Resolve accepts a node id, a DNI, or an exact "Name LastName" string,
  in that order. It returns ErrNotFound rather than guessing at partial
  matches.

SEE ALSO:
  - points.go: The cascade triggered by both sides of a move
  - dashboard.go: Snapshot consumers
*/
package network

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SnapshotTTL bounds how stale a cached tree snapshot may be.
const SnapshotTTL = 30 * time.Second

// maxTreeDepth cuts off recursive walks over malformed data. The move
// guard keeps the tree acyclic, but historical data is not trusted.
const maxTreeDepth = 10000

// =============================================================================
// SNAPSHOT - Immutable read view of the tree + user state
// =============================================================================

// Snapshot is a point-in-time view of the tree and the user records the
// traversal and rank computations need. It is never mutated after build.
type Snapshot struct {
	Nodes map[string]*TreeNode
	Users map[string]*User

	byDNI  map[string]*User
	byName map[string]*User

	LoadedAt time.Time
}

// BuildSnapshot indexes nodes and users for lookup.
func BuildSnapshot(nodes []*TreeNode, users []*User) *Snapshot {
	s := &Snapshot{
		Nodes:    make(map[string]*TreeNode, len(nodes)),
		Users:    make(map[string]*User, len(users)),
		byDNI:    make(map[string]*User, len(users)),
		byName:   make(map[string]*User, len(users)),
		LoadedAt: time.Now(),
	}
	for _, n := range nodes {
		s.Nodes[n.ID] = n
	}
	for _, u := range users {
		s.Users[u.ID] = u
		if u.DNI != "" {
			s.byDNI[u.DNI] = u
		}
		full := strings.TrimSpace(u.Name + " " + u.LastName)
		if full != "" {
			s.byName[full] = u
		}
	}
	return s
}

// Node returns the node for id, or nil.
func (s *Snapshot) Node(id string) *TreeNode { return s.Nodes[id] }

// User returns the user for id, or nil.
func (s *Snapshot) User(id string) *User { return s.Users[id] }

// Resolve finds a node by id, DNI, or exact full name, in that order.
func (s *Snapshot) Resolve(identifier string) (*TreeNode, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, ErrNotFound
	}

	if n, ok := s.Nodes[id]; ok {
		return n, nil
	}
	if u, ok := s.byDNI[id]; ok {
		if n, ok := s.Nodes[u.ID]; ok {
			return n, nil
		}
		return nil, ErrNotFound // user exists but never entered the tree
	}
	if u, ok := s.byName[id]; ok {
		if n, ok := s.Nodes[u.ID]; ok {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

// Descendants returns every node id in the subtree rooted at id,
// excluding id itself. Bounded by maxTreeDepth and a visited set.
func (s *Snapshot) Descendants(id string) []string {
	var out []string
	visited := map[string]bool{id: true}

	var walk func(nodeID string, depth int)
	walk = func(nodeID string, depth int) {
		if depth > maxTreeDepth {
			return
		}
		node := s.Nodes[nodeID]
		if node == nil {
			return
		}
		for _, child := range node.Childs {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			walk(child, depth+1)
		}
	}
	walk(id, 0)
	return out
}

// =============================================================================
// TREE SERVICE - Cached reads + validated moves
// =============================================================================

// Tree serves snapshots from a bounded-TTL cache and executes validated
// node relocations.
type Tree struct {
	Store  Store
	Points *Aggregator

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt time.Time
}

func NewTree(store Store, points *Aggregator) *Tree {
	return &Tree{Store: store, Points: points}
}

// Snapshot returns the cached view, reloading when the TTL has lapsed.
func (t *Tree) Snapshot(ctx context.Context) (*Snapshot, error) {
	t.mu.Lock()
	if t.cached != nil && time.Since(t.cachedAt) < SnapshotTTL {
		s := t.cached
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	nodes, err := t.Store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	users, err := t.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	s := BuildSnapshot(nodes, users)

	t.mu.Lock()
	t.cached = s
	t.cachedAt = time.Now()
	t.mu.Unlock()
	return s, nil
}

// Invalidate drops the cached snapshot. Mutators call this before
// acknowledging success.
func (t *Tree) Invalidate() {
	t.mu.Lock()
	t.cached = nil
	t.mu.Unlock()
}

// isDescendant reports whether candidate sits in the subtree under
// ancestorID, by walking parent pointers upward from candidate.
func (t *Tree) isDescendant(ctx context.Context, candidateID, ancestorID string) (bool, error) {
	id := candidateID
	for depth := 0; depth <= maxTreeDepth; depth++ {
		node, err := t.Store.FindNode(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return false, nil // dangling chain: not a descendant
			}
			return false, err
		}
		if node.Parent == "" {
			return false, nil
		}
		if node.Parent == ancestorID {
			return true, nil
		}
		id = node.Parent
	}
	return false, nil
}

// Move relocates subjectID under newParentID.
//
// Fails with InvalidMove when the relocation would form a cycle (the new
// parent is the subject itself or one of its descendants), and with
// NotFound when either id is unresolvable. On success the subject leaves
// its old parent's child list (remaining order preserved), appends to the
// new parent's list, and the group-volume cascade runs on BOTH the old
// and the new parent chain.
func (t *Tree) Move(ctx context.Context, subjectID, newParentID string) error {
	subject, err := t.Store.FindNode(ctx, subjectID)
	if err != nil {
		return err
	}
	newParent, err := t.Store.FindNode(ctx, newParentID)
	if err != nil {
		return err
	}

	if subjectID == newParentID {
		return &InvalidMoveError{SubjectID: subjectID, NewParentID: newParentID,
			Reason: "a node cannot be its own parent"}
	}
	under, err := t.isDescendant(ctx, newParentID, subjectID)
	if err != nil {
		return err
	}
	if under {
		return &InvalidMoveError{SubjectID: subjectID, NewParentID: newParentID,
			Reason: "new parent is a descendant of the moved node"}
	}

	oldParentID := subject.Parent

	// Detach from the current parent, preserving sibling order.
	if oldParentID != "" {
		oldParent, err := t.Store.FindNode(ctx, oldParentID)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if oldParent != nil {
			childs := oldParent.Childs[:0]
			for _, c := range oldParent.Childs {
				if c != subjectID {
					childs = append(childs, c)
				}
			}
			oldParent.Childs = childs
			if err := t.Store.UpdateNode(ctx, oldParent); err != nil {
				return err
			}
		}
	}

	// Attach at the end of the new parent's list.
	if !newParent.HasChild(subjectID) {
		newParent.Childs = append(newParent.Childs, subjectID)
	}
	if err := t.Store.UpdateNode(ctx, newParent); err != nil {
		return err
	}

	subject.Parent = newParentID
	if err := t.Store.UpdateNode(ctx, subject); err != nil {
		return err
	}

	t.Invalidate()

	// Both sides' ancestor totals change.
	if oldParentID != "" {
		if err := t.Points.RecomputeCascade(ctx, oldParentID); err != nil {
			return err
		}
	}
	return t.Points.RecomputeCascade(ctx, newParentID)
}
