/*
store.go - Persistence interfaces for the network engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  consumes only find/insert/update semantics over plain records; it does
  not depend on any particular query language. Implementations exist for
  SQLite (store/sqlite), MongoDB (store/mongo) and memory (network/store).

DESIGN:
  One narrow interface per entity, composed into Store. Filters are
  expressed as typed methods (FindUserByDNI, PendingAffiliations) rather
  than ad-hoc predicate maps, so every query the engine can run is
  visible at compile time.

LEDGER SEMANTICS:
  Ledger entries are never physically removed. UpdateEntry exists only to
  flip the Virtual flag (activation confirms pending funds) and the
  Deleted flag (soft delete); the value, type and beneficiary of a stored
  entry are immutable. Corrections are made via compensating entries.

TRANSACTIONAL BOUNDARY:
  TxStore.WithTx wraps a multi-step approval (ledger writes + user
  updates + cascade) so a mid-sequence fault does not leave group volume
  or balances inconsistent.

SEE ALSO:
  - network/store/memory.go: In-memory implementation for tests
  - store/sqlite/sqlite.go: SQLite implementation
  - store/mongo/mongo.go: MongoDB implementation (production)
*/
package network

import "context"

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

// UserStore persists users. Find methods return ErrNotFound when absent.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByDNI(ctx context.Context, dni string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
}

// TreeStore persists tree nodes.
type TreeStore interface {
	FindNode(ctx context.Context, id string) (*TreeNode, error)
	ListNodes(ctx context.Context) ([]*TreeNode, error)
	InsertNode(ctx context.Context, n *TreeNode) error
	UpdateNode(ctx context.Context, n *TreeNode) error
}

// LedgerStore persists ledger entries. Entries are append-only in value:
// UpdateEntry may flip only the Virtual and Deleted flags.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e *LedgerEntry) error
	FindEntry(ctx context.Context, id string) (*LedgerEntry, error)
	EntriesByUser(ctx context.Context, userID string) ([]*LedgerEntry, error)
	UpdateEntry(ctx context.Context, e *LedgerEntry) error
}

// PurchaseStore persists affiliation and activation events.
type PurchaseStore interface {
	FindAffiliation(ctx context.Context, id string) (*Affiliation, error)
	AffiliationsByUser(ctx context.Context, userID string, status PurchaseStatus) ([]*Affiliation, error)
	InsertAffiliation(ctx context.Context, a *Affiliation) error
	UpdateAffiliation(ctx context.Context, a *Affiliation) error
	DeleteAffiliation(ctx context.Context, id string) error

	FindActivation(ctx context.Context, id string) (*Activation, error)
	InsertActivation(ctx context.Context, a *Activation) error
	UpdateActivation(ctx context.Context, a *Activation) error
	DeleteActivation(ctx context.Context, id string) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	UserStore
	TreeStore
	LedgerStore
	PurchaseStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error, all writes made through its Store argument are
// rolled back; otherwise they are committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
