// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/orbit/network-engine/network"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	users        map[string]*network.User
	nodes        map[string]*network.TreeNode
	entries      map[string]*network.LedgerEntry
	entryOrder   []string
	affiliations map[string]*network.Affiliation
	activations  map[string]*network.Activation
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]*network.User),
		nodes:        make(map[string]*network.TreeNode),
		entries:      make(map[string]*network.LedgerEntry),
		affiliations: make(map[string]*network.Affiliation),
		activations:  make(map[string]*network.Activation),
	}
}

// Records are copied both ways so callers can mutate what they get back
// without touching store state until they Update.

func cloneUser(u *network.User) *network.User {
	c := *u
	return &c
}

func cloneNode(n *network.TreeNode) *network.TreeNode {
	c := *n
	c.Childs = append([]string(nil), n.Childs...)
	return &c
}

func cloneEntry(e *network.LedgerEntry) *network.LedgerEntry {
	c := *e
	return &c
}

func cloneAffiliation(a *network.Affiliation) *network.Affiliation {
	c := *a
	c.Transactions = append([]string(nil), a.Transactions...)
	return &c
}

func cloneActivation(a *network.Activation) *network.Activation {
	c := *a
	c.Products = append([]network.ProductLine(nil), a.Products...)
	c.Transactions = append([]string(nil), a.Transactions...)
	return &c
}

// -----------------------------------------------------------------------------
// Users

func (m *Memory) FindUser(_ context.Context, id string) (*network.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUserLocked(id)
}

func (m *Memory) findUserLocked(id string) (*network.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, network.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) FindUserByDNI(_ context.Context, dni string) (*network.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUserByDNILocked(dni)
}

func (m *Memory) findUserByDNILocked(dni string) (*network.User, error) {
	for _, u := range m.users {
		if u.DNI == dni {
			return cloneUser(u), nil
		}
	}
	return nil, network.ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]*network.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked()
}

func (m *Memory) listUsersLocked() ([]*network.User, error) {
	out := make([]*network.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

func (m *Memory) InsertUser(_ context.Context, u *network.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertUserLocked(u)
}

func (m *Memory) insertUserLocked(u *network.User) error {
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, u *network.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUserLocked(u)
}

func (m *Memory) updateUserLocked(u *network.User) error {
	if _, ok := m.users[u.ID]; !ok {
		return network.ErrNotFound
	}
	m.users[u.ID] = cloneUser(u)
	return nil
}

// -----------------------------------------------------------------------------
// Tree nodes

func (m *Memory) FindNode(_ context.Context, id string) (*network.TreeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findNodeLocked(id)
}

func (m *Memory) findNodeLocked(id string) (*network.TreeNode, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, network.ErrNotFound
	}
	return cloneNode(n), nil
}

func (m *Memory) ListNodes(_ context.Context) ([]*network.TreeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listNodesLocked()
}

func (m *Memory) listNodesLocked() ([]*network.TreeNode, error) {
	out := make([]*network.TreeNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, cloneNode(n))
	}
	return out, nil
}

func (m *Memory) InsertNode(_ context.Context, n *network.TreeNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertNodeLocked(n)
}

func (m *Memory) insertNodeLocked(n *network.TreeNode) error {
	m.nodes[n.ID] = cloneNode(n)
	return nil
}

func (m *Memory) UpdateNode(_ context.Context, n *network.TreeNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateNodeLocked(n)
}

func (m *Memory) updateNodeLocked(n *network.TreeNode) error {
	if _, ok := m.nodes[n.ID]; !ok {
		return network.ErrNotFound
	}
	m.nodes[n.ID] = cloneNode(n)
	return nil
}

// -----------------------------------------------------------------------------
// Ledger entries

func (m *Memory) AppendEntry(_ context.Context, e *network.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e *network.LedgerEntry) error {
	m.entries[e.ID] = cloneEntry(e)
	m.entryOrder = append(m.entryOrder, e.ID)
	return nil
}

func (m *Memory) FindEntry(_ context.Context, id string) (*network.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findEntryLocked(id)
}

func (m *Memory) findEntryLocked(id string) (*network.LedgerEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, network.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID string) ([]*network.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesByUserLocked(userID)
}

func (m *Memory) entriesByUserLocked(userID string) ([]*network.LedgerEntry, error) {
	// Insertion order, matching the database implementations' date order.
	var out []*network.LedgerEntry
	for _, id := range m.entryOrder {
		if e := m.entries[id]; e.UserID == userID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (m *Memory) UpdateEntry(_ context.Context, e *network.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntryLocked(e)
}

func (m *Memory) updateEntryLocked(e *network.LedgerEntry) error {
	if _, ok := m.entries[e.ID]; !ok {
		return network.ErrNotFound
	}
	m.entries[e.ID] = cloneEntry(e)
	return nil
}

// -----------------------------------------------------------------------------
// Affiliations

func (m *Memory) FindAffiliation(_ context.Context, id string) (*network.Affiliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findAffiliationLocked(id)
}

func (m *Memory) findAffiliationLocked(id string) (*network.Affiliation, error) {
	a, ok := m.affiliations[id]
	if !ok {
		return nil, network.ErrNotFound
	}
	return cloneAffiliation(a), nil
}

func (m *Memory) AffiliationsByUser(_ context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.affiliationsByUserLocked(userID, status)
}

func (m *Memory) affiliationsByUserLocked(userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	var out []*network.Affiliation
	for _, a := range m.affiliations {
		if a.UserID == userID && a.Status == status {
			out = append(out, cloneAffiliation(a))
		}
	}
	return out, nil
}

func (m *Memory) InsertAffiliation(_ context.Context, a *network.Affiliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAffiliationLocked(a)
}

func (m *Memory) insertAffiliationLocked(a *network.Affiliation) error {
	m.affiliations[a.ID] = cloneAffiliation(a)
	return nil
}

func (m *Memory) UpdateAffiliation(_ context.Context, a *network.Affiliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAffiliationLocked(a)
}

func (m *Memory) updateAffiliationLocked(a *network.Affiliation) error {
	if _, ok := m.affiliations[a.ID]; !ok {
		return network.ErrNotFound
	}
	m.affiliations[a.ID] = cloneAffiliation(a)
	return nil
}

func (m *Memory) DeleteAffiliation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAffiliationLocked(id)
}

func (m *Memory) deleteAffiliationLocked(id string) error {
	if _, ok := m.affiliations[id]; !ok {
		return network.ErrNotFound
	}
	delete(m.affiliations, id)
	return nil
}

// -----------------------------------------------------------------------------
// Activations

func (m *Memory) FindActivation(_ context.Context, id string) (*network.Activation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActivationLocked(id)
}

func (m *Memory) findActivationLocked(id string) (*network.Activation, error) {
	a, ok := m.activations[id]
	if !ok {
		return nil, network.ErrNotFound
	}
	return cloneActivation(a), nil
}

func (m *Memory) InsertActivation(_ context.Context, a *network.Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertActivationLocked(a)
}

func (m *Memory) insertActivationLocked(a *network.Activation) error {
	m.activations[a.ID] = cloneActivation(a)
	return nil
}

func (m *Memory) UpdateActivation(_ context.Context, a *network.Activation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateActivationLocked(a)
}

func (m *Memory) updateActivationLocked(a *network.Activation) error {
	if _, ok := m.activations[a.ID]; !ok {
		return network.ErrNotFound
	}
	m.activations[a.ID] = cloneActivation(a)
	return nil
}

func (m *Memory) DeleteActivation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteActivationLocked(id)
}

func (m *Memory) deleteActivationLocked(id string) error {
	if _, ok := m.activations[id]; !ok {
		return network.ErrNotFound
	}
	delete(m.activations, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(network.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Snapshot current state
	snapshot := tm.snapshot()

	// Create a transactional view
	txStore := &txMemoryView{parent: tm}

	// Execute function
	if err := fn(txStore); err != nil {
		// Rollback
		tm.restore(snapshot)
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:        make(map[string]*network.User, len(tm.users)),
		nodes:        make(map[string]*network.TreeNode, len(tm.nodes)),
		entries:      make(map[string]*network.LedgerEntry, len(tm.entries)),
		entryOrder:   append([]string(nil), tm.entryOrder...),
		affiliations: make(map[string]*network.Affiliation, len(tm.affiliations)),
		activations:  make(map[string]*network.Activation, len(tm.activations)),
	}
	for k, v := range tm.users {
		s.users[k] = cloneUser(v)
	}
	for k, v := range tm.nodes {
		s.nodes[k] = cloneNode(v)
	}
	for k, v := range tm.entries {
		s.entries[k] = cloneEntry(v)
	}
	for k, v := range tm.affiliations {
		s.affiliations[k] = cloneAffiliation(v)
	}
	for k, v := range tm.activations {
		s.activations[k] = cloneActivation(v)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.nodes = s.nodes
	tm.entries = s.entries
	tm.entryOrder = s.entryOrder
	tm.affiliations = s.affiliations
	tm.activations = s.activations
}

type memorySnapshot struct {
	users        map[string]*network.User
	nodes        map[string]*network.TreeNode
	entries      map[string]*network.LedgerEntry
	entryOrder   []string
	affiliations map[string]*network.Affiliation
	activations  map[string]*network.Activation
}

// txMemoryView routes Store calls to the parent's locked internals; the
// parent holds its write lock for the duration of WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) FindUser(_ context.Context, id string) (*network.User, error) {
	return tv.parent.findUserLocked(id)
}

func (tv *txMemoryView) FindUserByDNI(_ context.Context, dni string) (*network.User, error) {
	return tv.parent.findUserByDNILocked(dni)
}

func (tv *txMemoryView) ListUsers(_ context.Context) ([]*network.User, error) {
	return tv.parent.listUsersLocked()
}

func (tv *txMemoryView) InsertUser(_ context.Context, u *network.User) error {
	return tv.parent.insertUserLocked(u)
}

func (tv *txMemoryView) UpdateUser(_ context.Context, u *network.User) error {
	return tv.parent.updateUserLocked(u)
}

func (tv *txMemoryView) FindNode(_ context.Context, id string) (*network.TreeNode, error) {
	return tv.parent.findNodeLocked(id)
}

func (tv *txMemoryView) ListNodes(_ context.Context) ([]*network.TreeNode, error) {
	return tv.parent.listNodesLocked()
}

func (tv *txMemoryView) InsertNode(_ context.Context, n *network.TreeNode) error {
	return tv.parent.insertNodeLocked(n)
}

func (tv *txMemoryView) UpdateNode(_ context.Context, n *network.TreeNode) error {
	return tv.parent.updateNodeLocked(n)
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e *network.LedgerEntry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txMemoryView) FindEntry(_ context.Context, id string) (*network.LedgerEntry, error) {
	return tv.parent.findEntryLocked(id)
}

func (tv *txMemoryView) EntriesByUser(_ context.Context, userID string) ([]*network.LedgerEntry, error) {
	return tv.parent.entriesByUserLocked(userID)
}

func (tv *txMemoryView) UpdateEntry(_ context.Context, e *network.LedgerEntry) error {
	return tv.parent.updateEntryLocked(e)
}

func (tv *txMemoryView) FindAffiliation(_ context.Context, id string) (*network.Affiliation, error) {
	return tv.parent.findAffiliationLocked(id)
}

func (tv *txMemoryView) AffiliationsByUser(_ context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	return tv.parent.affiliationsByUserLocked(userID, status)
}

func (tv *txMemoryView) InsertAffiliation(_ context.Context, a *network.Affiliation) error {
	return tv.parent.insertAffiliationLocked(a)
}

func (tv *txMemoryView) UpdateAffiliation(_ context.Context, a *network.Affiliation) error {
	return tv.parent.updateAffiliationLocked(a)
}

func (tv *txMemoryView) DeleteAffiliation(_ context.Context, id string) error {
	return tv.parent.deleteAffiliationLocked(id)
}

func (tv *txMemoryView) FindActivation(_ context.Context, id string) (*network.Activation, error) {
	return tv.parent.findActivationLocked(id)
}

func (tv *txMemoryView) InsertActivation(_ context.Context, a *network.Activation) error {
	return tv.parent.insertActivationLocked(a)
}

func (tv *txMemoryView) UpdateActivation(_ context.Context, a *network.Activation) error {
	return tv.parent.updateActivationLocked(a)
}

func (tv *txMemoryView) DeleteActivation(_ context.Context, id string) error {
	return tv.parent.deleteActivationLocked(id)
}
