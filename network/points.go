/*
points.go - Group volume cascade

PURPOSE:
  TotalPoints is a cached aggregate: a user's own points plus affiliation
  points plus the sum of all descendants' TotalPoints. This file owns the
  ONLY way that cache is maintained: an upward recomputation from the
  node whose own points changed, through every ancestor, to the root.

PROPAGATION MODEL:
  RecomputeCascade does NOT recurse downward. Each step recomputes one
  node's total from its children's already-current cached values, writes
  it, and moves to the parent. Callers are responsible for invoking it at
  the exact node whose own points changed:
    - activation approval / revert
    - affiliation approval / revert
    - manual point edits
    - both sides of a tree move

  Recomputation (not incrementing) makes overlapping cascades tolerant
  of reordering: the last one to touch an ancestor leaves the correct
  value, because it always reads live child totals.

SEE ALSO:
  - tree.go: Move triggers the cascade on both parent chains
  - approval.go: Approval flows triggering the cascade
*/
package network

import "context"

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator maintains the TotalPoints cache.
type Aggregator struct {
	Users UserStore
	Nodes TreeStore
}

func NewAggregator(users UserStore, nodes TreeStore) *Aggregator {
	return &Aggregator{Users: users, Nodes: nodes}
}

// RecomputeCascade recomputes TotalPoints for userID from its children's
// cached totals, persists it, and repeats for every ancestor up to the
// root. A missing node is a no-op: during early registration the node
// may legitimately not exist yet.
func (a *Aggregator) RecomputeCascade(ctx context.Context, userID string) error {
	visited := make(map[string]bool)

	id := userID
	for depth := 0; depth <= maxTreeDepth; depth++ {
		if visited[id] {
			return nil // malformed parent chain; stop rather than loop
		}
		visited[id] = true

		node, err := a.Nodes.FindNode(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		user, err := a.Users.FindUser(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}

		childrenTotal := 0.0
		for _, childID := range node.Childs {
			child, err := a.Users.FindUser(ctx, childID)
			if err != nil {
				if IsNotFound(err) {
					continue // orphaned child reference
				}
				return err
			}
			childrenTotal += child.TotalPoints
		}

		user.TotalPoints = user.Points + user.AffiliationPoints + childrenTotal
		if err := a.Users.UpdateUser(ctx, user); err != nil {
			return err
		}

		if node.Parent == "" {
			return nil
		}
		id = node.Parent
	}
	return nil
}

// SubtreeTotals computes TotalPoints for every node of the subtree rooted
// at rootID from a snapshot, without touching the store. Read models use
// this to render live group volume; the persisted cache is untouched.
// Returns the computed totals keyed by node id.
func SubtreeTotals(s *Snapshot, rootID string) map[string]float64 {
	totals := make(map[string]float64)
	visited := make(map[string]bool)

	var total func(id string, depth int) float64
	total = func(id string, depth int) float64 {
		if depth > maxTreeDepth || visited[id] {
			return 0
		}
		visited[id] = true

		node := s.Node(id)
		if node == nil {
			return 0
		}
		own := 0.0
		if u := s.User(id); u != nil {
			own = u.Points + u.AffiliationPoints
		}
		sum := own
		for _, child := range node.Childs {
			sum += total(child, depth+1)
		}
		totals[id] = sum
		return sum
	}
	total(rootID, 0)
	return totals
}
