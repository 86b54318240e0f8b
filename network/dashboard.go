/*
dashboard.go - Member-facing read models

PURPOSE:
  Assembles what a member sees when they log in: wallet balances, group
  volume, current rank with the deficit to the next one, and the size of
  their direct team. Also serves the lazy one-level tree read behind the
  network browser UI.

CONSISTENCY:
  Reads go through the shared TTL snapshot, so a dashboard may be up to
  SnapshotTTL stale relative to the last approval. Rank is recomputed on
  every dashboard load and persisted when it moved, which is how stored
  ranks (consulted by the qualifying-leg search) stay current.

SEE ALSO:
  - rank.go: ComputeRank / NextRank
  - points.go: SubtreeTotals
*/
package network

import (
	"context"

	"go.uber.org/zap"
)

// DashboardView is the member home screen.
type DashboardView struct {
	UserID      string
	Name        string
	Plan        Plan
	Balance     Balance
	TotalPoints float64
	Legs        []float64

	Rank        Rank
	NextRank    Rank
	NextDeficit float64

	// TeamCount is the number of affiliated, non-closed members the user
	// directly sponsors.
	TeamCount int

	Activated     bool
	SoftActivated bool
}

// Dashboard builds the member view for userID.
func (e *Engine) Dashboard(ctx context.Context, userID string) (*DashboardView, error) {
	snap, err := e.Tree.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	user := snap.User(userID)
	if user == nil {
		return nil, ErrNotFound
	}

	bal, err := NewLedger(e.Store).Balances(ctx, userID)
	if err != nil {
		return nil, err
	}

	totals := SubtreeTotals(snap, userID)
	legs := Legs(snap, totals, userID)
	rank := ComputeRank(snap, totals, userID)

	view := &DashboardView{
		UserID:        user.ID,
		Name:          user.Name + " " + user.LastName,
		Plan:          user.Plan,
		Balance:       bal,
		TotalPoints:   totals[userID],
		Legs:          legs,
		Rank:          rank,
		TeamCount:     teamCount(snap, userID),
		Activated:     user.Activated,
		SoftActivated: user.SoftActivated,
	}
	if next, deficit, ok := NextRank(rank, legs); ok {
		view.NextRank = next
		view.NextDeficit = deficit
	}

	if user.Rank != rank {
		if err := e.persistRank(ctx, userID, rank); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (e *Engine) persistRank(ctx context.Context, userID string, rank Rank) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, err := e.Store.FindUser(ctx, userID)
	if err != nil {
		return err
	}
	old := user.Rank
	user.Rank = rank
	if err := e.Store.UpdateUser(ctx, user); err != nil {
		return err
	}
	e.Log.Info("rank updated",
		zap.String("user", userID),
		zap.String("from", string(old)),
		zap.String("to", string(rank)))
	return nil
}

// =============================================================================
// TREE BROWSER
// =============================================================================

// NodeChild is one row of the lazy tree read.
type NodeChild struct {
	ID          string
	Name        string
	Plan        Plan
	Rank        Rank
	TotalPoints float64
	HasChilds   bool
}

// NodeView is one expanded level of the network browser.
type NodeView struct {
	ID          string
	Parent      string
	Name        string
	TotalPoints float64
	Children    []NodeChild
}

// GetNode resolves identifier (id, DNI or exact full name) and returns
// that node with one level of children, reading through the TTL
// snapshot. The UI expands the tree level by level with repeated calls.
func (e *Engine) GetNode(ctx context.Context, identifier string) (*NodeView, error) {
	snap, err := e.Tree.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	node, err := snap.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	view := &NodeView{ID: node.ID, Parent: node.Parent}
	if u := snap.User(node.ID); u != nil {
		view.Name = u.Name + " " + u.LastName
		view.TotalPoints = u.TotalPoints
	}
	for _, childID := range node.Childs {
		child := NodeChild{ID: childID}
		if n := snap.Node(childID); n != nil {
			child.HasChilds = len(n.Childs) > 0
		}
		if u := snap.User(childID); u != nil {
			child.Name = u.Name + " " + u.LastName
			child.Plan = u.Plan
			child.Rank = u.Rank
			child.TotalPoints = u.TotalPoints
		}
		view.Children = append(view.Children, child)
	}
	return view, nil
}

// teamCount counts the affiliated, non-closed members anywhere in
// userID's subtree whose sponsor is userID.
func teamCount(s *Snapshot, userID string) int {
	count := 0
	for _, id := range s.Descendants(userID) {
		u := s.User(id)
		if u != nil && u.ParentID == userID && u.Affiliated && !u.Closed {
			count++
		}
	}
	return count
}
