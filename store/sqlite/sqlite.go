/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements network.TxStore using SQLite. Suitable for single-node
  deployments and local development; the production deployment uses the
  MongoDB store, and the SQL here is plain enough to port.

SOFT-DELETE ENFORCEMENT:
  Ledger entries are never removed:
  - No DELETE statements on the entries table
  - UPDATE touches only the virtual and deleted flags
  - Corrections via compensating entries only

KEY TABLES:
  users:         Member records with cached group volume and rank
  nodes:         Sponsor tree (ordered childs stored as a JSON array)
  entries:       Immutable value ledger
  affiliations:  Plan purchases moving through pending/approved/rejected
  activations:   Product purchases moving through pending/approved/rejected

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single-writer
  model. WAL mode keeps readers unblocked during writes.

USAGE:
  store, err := sqlite.New("./data/network.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := network.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - network/store.go: Interface definitions
  - network/store/memory.go: In-memory implementation for testing
  - store/mongo/mongo.go: MongoDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/orbit/network-engine/network"
)

// Store implements network.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Members
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		dni TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT,
		phone TEXT,
		country TEXT,
		parent_id TEXT,
		plan TEXT NOT NULL DEFAULT 'default',
		levels INTEGER NOT NULL DEFAULT 0,
		points REAL NOT NULL DEFAULT 0,
		affiliation_points REAL NOT NULL DEFAULT 0,
		total_points REAL NOT NULL DEFAULT 0,
		activated BOOLEAN NOT NULL DEFAULT FALSE,
		soft_activated BOOLEAN NOT NULL DEFAULT FALSE,
		affiliated BOOLEAN NOT NULL DEFAULT FALSE,
		affiliation_date TEXT,
		rank TEXT NOT NULL DEFAULT 'none',
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		upgrade_a TEXT NOT NULL DEFAULT '0',
		upgrade_b TEXT NOT NULL DEFAULT '0',
		upgrade_pos INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_dni ON users(dni);
	CREATE INDEX IF NOT EXISTS idx_users_parent ON users(parent_id);

	-- Sponsor tree. Childs is a JSON array: order is enrollment order
	-- and ORDER IS SIGNIFICANT for rank computation.
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		parent TEXT NOT NULL DEFAULT '',
		childs_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);

	-- Value ledger (soft-delete only, no physical removal)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		origin_user_id TEXT,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		virtual BOOLEAN NOT NULL DEFAULT FALSE,
		name TEXT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_reversal BOOLEAN NOT NULL DEFAULT FALSE,
		related_entry_id TEXT
	);

	-- Balance computation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_user_date
		ON entries(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_related
		ON entries(related_entry_id) WHERE related_entry_id IS NOT NULL;

	-- Plan purchases
	CREATE TABLE IF NOT EXISTS affiliations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		plan TEXT NOT NULL,
		price TEXT NOT NULL,
		amount_virtual TEXT NOT NULL DEFAULT '0',
		amount_expected TEXT NOT NULL DEFAULT '0',
		amount_cash TEXT NOT NULL DEFAULT '0',
		transactions_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_affiliations_user
		ON affiliations(user_id, status);

	-- Product purchases
	CREATE TABLE IF NOT EXISTS activations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		products_json TEXT NOT NULL DEFAULT '[]',
		price TEXT NOT NULL,
		points REAL NOT NULL DEFAULT 0,
		amount_virtual TEXT NOT NULL DEFAULT '0',
		amount_real TEXT NOT NULL DEFAULT '0',
		amount_cash TEXT NOT NULL DEFAULT '0',
		transactions_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_activations_user
		ON activations(user_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so the same statement helpers
// serve both paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, dni, name, last_name, email, phone, country, parent_id,
	plan, levels, points, affiliation_points, total_points,
	activated, soft_activated, affiliated, affiliation_date, rank, closed,
	upgrade_a, upgrade_b, upgrade_pos, created_at`

func (s *Store) FindUser(ctx context.Context, id string) (*network.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findUser(ctx, s.db, "id = ?", id)
}

func (s *Store) FindUserByDNI(ctx context.Context, dni string) (*network.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findUser(ctx, s.db, "dni = ?", dni)
}

func findUser(ctx context.Context, q querier, where string, arg any) (*network.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, network.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]*network.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func listUsers(ctx context.Context, q querier) ([]*network.User, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*network.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*network.User, error) {
	var (
		u               network.User
		email           sql.NullString
		phone           sql.NullString
		country         sql.NullString
		parentID        sql.NullString
		affiliationDate sql.NullString
		upgradeA        string
		upgradeB        string
		createdAt       string
	)
	err := row.Scan(
		&u.ID, &u.DNI, &u.Name, &u.LastName, &email, &phone, &country, &parentID,
		&u.Plan, &u.Levels, &u.Points, &u.AffiliationPoints, &u.TotalPoints,
		&u.Activated, &u.SoftActivated, &u.Affiliated, &affiliationDate, &u.Rank, &u.Closed,
		&upgradeA, &upgradeB, &u.UpgradePos, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	u.Email = email.String
	u.Phone = phone.String
	u.Country = country.String
	u.ParentID = parentID.String
	if affiliationDate.Valid {
		t, _ := time.Parse(time.RFC3339, affiliationDate.String)
		u.AffiliationDate = &t
	}
	u.UpgradeArr[0] = mustDecimal(upgradeA)
	u.UpgradeArr[1] = mustDecimal(upgradeB)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (s *Store) InsertUser(ctx context.Context, u *network.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertUser(ctx, s.db, u)
}

func insertUser(ctx context.Context, q querier, u *network.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query, userArgs(u)...)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func updateUser(ctx context.Context, q querier, u *network.User) error {
	query := `
		UPDATE users SET
			dni = ?, name = ?, last_name = ?, email = ?, phone = ?, country = ?,
			parent_id = ?, plan = ?, levels = ?, points = ?, affiliation_points = ?,
			total_points = ?, activated = ?, soft_activated = ?, affiliated = ?,
			affiliation_date = ?, rank = ?, closed = ?, upgrade_a = ?, upgrade_b = ?,
			upgrade_pos = ?
		WHERE id = ?
	`
	var affiliationDate *string
	if u.AffiliationDate != nil {
		t := u.AffiliationDate.Format(time.RFC3339)
		affiliationDate = &t
	}
	res, err := q.ExecContext(ctx, query,
		u.DNI, u.Name, u.LastName, nullString(u.Email), nullString(u.Phone), nullString(u.Country),
		nullString(u.ParentID), u.Plan, u.Levels, u.Points, u.AffiliationPoints,
		u.TotalPoints, u.Activated, u.SoftActivated, u.Affiliated,
		affiliationDate, u.Rank, u.Closed, u.UpgradeArr[0].String(), u.UpgradeArr[1].String(),
		u.UpgradePos,
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res)
}

func (s *Store) UpdateUser(ctx context.Context, u *network.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateUser(ctx, s.db, u)
}

func userArgs(u *network.User) []any {
	var affiliationDate *string
	if u.AffiliationDate != nil {
		t := u.AffiliationDate.Format(time.RFC3339)
		affiliationDate = &t
	}
	return []any{
		u.ID, u.DNI, u.Name, u.LastName, nullString(u.Email), nullString(u.Phone),
		nullString(u.Country), nullString(u.ParentID),
		u.Plan, u.Levels, u.Points, u.AffiliationPoints, u.TotalPoints,
		u.Activated, u.SoftActivated, u.Affiliated, affiliationDate, u.Rank, u.Closed,
		u.UpgradeArr[0].String(), u.UpgradeArr[1].String(), u.UpgradePos,
		u.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TREE STORE
// =============================================================================

func (s *Store) FindNode(ctx context.Context, id string) (*network.TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findNode(ctx, s.db, id)
}

func findNode(ctx context.Context, q querier, id string) (*network.TreeNode, error) {
	var (
		n          network.TreeNode
		childsJSON string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, parent, childs_json FROM nodes WHERE id = ?", id,
	).Scan(&n.ID, &n.Parent, &childsJSON)
	if err == sql.ErrNoRows {
		return nil, network.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(childsJSON), &n.Childs); err != nil {
		return nil, fmt.Errorf("failed to decode childs of node %s: %w", id, err)
	}
	return &n, nil
}

func (s *Store) ListNodes(ctx context.Context) ([]*network.TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listNodes(ctx, s.db)
}

func listNodes(ctx context.Context, q querier) ([]*network.TreeNode, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, parent, childs_json FROM nodes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*network.TreeNode
	for rows.Next() {
		var (
			n          network.TreeNode
			childsJSON string
		)
		if err := rows.Scan(&n.ID, &n.Parent, &childsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(childsJSON), &n.Childs); err != nil {
			return nil, fmt.Errorf("failed to decode childs of node %s: %w", n.ID, err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

func (s *Store) InsertNode(ctx context.Context, n *network.TreeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertNode(ctx, s.db, n)
}

func insertNode(ctx context.Context, q querier, n *network.TreeNode) error {
	childsJSON, _ := json.Marshal(n.Childs)
	_, err := q.ExecContext(ctx,
		"INSERT INTO nodes (id, parent, childs_json) VALUES (?, ?, ?)",
		n.ID, n.Parent, string(childsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (s *Store) UpdateNode(ctx context.Context, n *network.TreeNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateNode(ctx, s.db, n)
}

func updateNode(ctx context.Context, q querier, n *network.TreeNode) error {
	childsJSON, _ := json.Marshal(n.Childs)
	res, err := q.ExecContext(ctx,
		"UPDATE nodes SET parent = ?, childs_json = ? WHERE id = ?",
		n.Parent, string(childsJSON), n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return requireRow(res)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

const entryColumns = `id, user_id, origin_user_id, date, type, value, virtual,
	name, deleted, is_reversal, related_entry_id`

func (s *Store) AppendEntry(ctx context.Context, e *network.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e *network.LedgerEntry) error {
	query := `
		INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.UserID, nullString(e.OriginUserID),
		e.Date.Format(time.RFC3339Nano), e.Type, e.Value.String(), e.Virtual,
		nullString(e.Name), e.Deleted, e.IsReversal, nullString(e.RelatedEntryID),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) FindEntry(ctx context.Context, id string) (*network.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findEntry(ctx, s.db, id)
}

func findEntry(ctx context.Context, q querier, id string) (*network.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, network.ErrNotFound
	}
	return e, err
}

func (s *Store) EntriesByUser(ctx context.Context, userID string) ([]*network.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesByUser(ctx, s.db, userID)
}

func entriesByUser(ctx context.Context, q querier, userID string) ([]*network.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE user_id = ? ORDER BY date ASC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*network.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*network.LedgerEntry, error) {
	var (
		e            network.LedgerEntry
		originUserID sql.NullString
		date         string
		value        string
		name         sql.NullString
		relatedID    sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.UserID, &originUserID, &date, &e.Type, &value, &e.Virtual,
		&name, &e.Deleted, &e.IsReversal, &relatedID,
	)
	if err != nil {
		return nil, err
	}
	e.OriginUserID = originUserID.String
	e.Date, _ = time.Parse(time.RFC3339Nano, date)
	e.Value = mustDecimal(value)
	e.Name = name.String
	e.RelatedEntryID = relatedID.String
	return &e, nil
}

// UpdateEntry flips the virtual and deleted flags only; value, type and
// beneficiary are immutable once appended.
func (s *Store) UpdateEntry(ctx context.Context, e *network.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, e)
}

func updateEntry(ctx context.Context, q querier, e *network.LedgerEntry) error {
	res, err := q.ExecContext(ctx,
		"UPDATE entries SET virtual = ?, deleted = ? WHERE id = ?",
		e.Virtual, e.Deleted, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return requireRow(res)
}

// =============================================================================
// PURCHASE STORE
// =============================================================================

const affiliationColumns = `id, user_id, date, status, plan, price,
	amount_virtual, amount_expected, amount_cash, transactions_json`

func (s *Store) FindAffiliation(ctx context.Context, id string) (*network.Affiliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findAffiliation(ctx, s.db, id)
}

func findAffiliation(ctx context.Context, q querier, id string) (*network.Affiliation, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+affiliationColumns+" FROM affiliations WHERE id = ?", id)
	a, err := scanAffiliation(row)
	if err == sql.ErrNoRows {
		return nil, network.ErrNotFound
	}
	return a, err
}

func (s *Store) AffiliationsByUser(ctx context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return affiliationsByUser(ctx, s.db, userID, status)
}

func affiliationsByUser(ctx context.Context, q querier, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+affiliationColumns+" FROM affiliations WHERE user_id = ? AND status = ? ORDER BY date ASC",
		userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var affs []*network.Affiliation
	for rows.Next() {
		a, err := scanAffiliation(rows)
		if err != nil {
			return nil, err
		}
		affs = append(affs, a)
	}
	return affs, rows.Err()
}

func scanAffiliation(row rowScanner) (*network.Affiliation, error) {
	var (
		a                network.Affiliation
		date             string
		price            string
		amounts          [3]string
		transactionsJSON string
	)
	err := row.Scan(
		&a.ID, &a.UserID, &date, &a.Status, &a.Plan, &price,
		&amounts[0], &amounts[1], &amounts[2], &transactionsJSON,
	)
	if err != nil {
		return nil, err
	}
	a.Date, _ = time.Parse(time.RFC3339Nano, date)
	a.Price = mustDecimal(price)
	for i := range amounts {
		a.Amounts[i] = mustDecimal(amounts[i])
	}
	if err := json.Unmarshal([]byte(transactionsJSON), &a.Transactions); err != nil {
		return nil, fmt.Errorf("failed to decode transactions of affiliation %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *Store) InsertAffiliation(ctx context.Context, a *network.Affiliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAffiliation(ctx, s.db, a)
}

func insertAffiliation(ctx context.Context, q querier, a *network.Affiliation) error {
	transactionsJSON, _ := json.Marshal(a.Transactions)
	query := `
		INSERT INTO affiliations (` + affiliationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID, a.UserID, a.Date.Format(time.RFC3339Nano), a.Status, a.Plan, a.Price.String(),
		a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String(),
		string(transactionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert affiliation: %w", err)
	}
	return nil
}

func (s *Store) UpdateAffiliation(ctx context.Context, a *network.Affiliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAffiliation(ctx, s.db, a)
}

func updateAffiliation(ctx context.Context, q querier, a *network.Affiliation) error {
	transactionsJSON, _ := json.Marshal(a.Transactions)
	res, err := q.ExecContext(ctx, `
		UPDATE affiliations SET
			status = ?, plan = ?, price = ?,
			amount_virtual = ?, amount_expected = ?, amount_cash = ?,
			transactions_json = ?
		WHERE id = ?`,
		a.Status, a.Plan, a.Price.String(),
		a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String(),
		string(transactionsJSON), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update affiliation: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteAffiliation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAffiliation(ctx, s.db, id)
}

func deleteAffiliation(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM affiliations WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const activationColumns = `id, user_id, date, status, products_json, price, points,
	amount_virtual, amount_real, amount_cash, transactions_json`

func (s *Store) FindActivation(ctx context.Context, id string) (*network.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findActivation(ctx, s.db, id)
}

func findActivation(ctx context.Context, q querier, id string) (*network.Activation, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+activationColumns+" FROM activations WHERE id = ?", id)
	a, err := scanActivation(row)
	if err == sql.ErrNoRows {
		return nil, network.ErrNotFound
	}
	return a, err
}

func scanActivation(row rowScanner) (*network.Activation, error) {
	var (
		a                network.Activation
		date             string
		productsJSON     string
		price            string
		amounts          [3]string
		transactionsJSON string
	)
	err := row.Scan(
		&a.ID, &a.UserID, &date, &a.Status, &productsJSON, &price, &a.Points,
		&amounts[0], &amounts[1], &amounts[2], &transactionsJSON,
	)
	if err != nil {
		return nil, err
	}
	a.Date, _ = time.Parse(time.RFC3339Nano, date)
	a.Price = mustDecimal(price)
	for i := range amounts {
		a.Amounts[i] = mustDecimal(amounts[i])
	}
	if err := json.Unmarshal([]byte(productsJSON), &a.Products); err != nil {
		return nil, fmt.Errorf("failed to decode products of activation %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(transactionsJSON), &a.Transactions); err != nil {
		return nil, fmt.Errorf("failed to decode transactions of activation %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *Store) InsertActivation(ctx context.Context, a *network.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertActivation(ctx, s.db, a)
}

func insertActivation(ctx context.Context, q querier, a *network.Activation) error {
	productsJSON, _ := json.Marshal(a.Products)
	transactionsJSON, _ := json.Marshal(a.Transactions)
	query := `
		INSERT INTO activations (` + activationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID, a.UserID, a.Date.Format(time.RFC3339Nano), a.Status,
		string(productsJSON), a.Price.String(), a.Points,
		a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String(),
		string(transactionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation: %w", err)
	}
	return nil
}

func (s *Store) UpdateActivation(ctx context.Context, a *network.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateActivation(ctx, s.db, a)
}

func updateActivation(ctx context.Context, q querier, a *network.Activation) error {
	productsJSON, _ := json.Marshal(a.Products)
	transactionsJSON, _ := json.Marshal(a.Transactions)
	res, err := q.ExecContext(ctx, `
		UPDATE activations SET
			status = ?, products_json = ?, price = ?, points = ?,
			amount_virtual = ?, amount_real = ?, amount_cash = ?,
			transactions_json = ?
		WHERE id = ?`,
		a.Status, string(productsJSON), a.Price.String(), a.Points,
		a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String(),
		string(transactionsJSON), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update activation: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteActivation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteActivation(ctx, s.db, id)
}

func deleteActivation(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM activations WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// =============================================================================
// TRANSACTIONAL STORE (network.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store network.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) FindUser(ctx context.Context, id string) (*network.User, error) {
	return findUser(ctx, ts.tx, "id = ?", id)
}

func (ts *txStore) FindUserByDNI(ctx context.Context, dni string) (*network.User, error) {
	return findUser(ctx, ts.tx, "dni = ?", dni)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]*network.User, error) {
	return listUsers(ctx, ts.tx)
}

func (ts *txStore) InsertUser(ctx context.Context, u *network.User) error {
	return insertUser(ctx, ts.tx, u)
}

func (ts *txStore) UpdateUser(ctx context.Context, u *network.User) error {
	return updateUser(ctx, ts.tx, u)
}

func (ts *txStore) FindNode(ctx context.Context, id string) (*network.TreeNode, error) {
	return findNode(ctx, ts.tx, id)
}

func (ts *txStore) ListNodes(ctx context.Context) ([]*network.TreeNode, error) {
	return listNodes(ctx, ts.tx)
}

func (ts *txStore) InsertNode(ctx context.Context, n *network.TreeNode) error {
	return insertNode(ctx, ts.tx, n)
}

func (ts *txStore) UpdateNode(ctx context.Context, n *network.TreeNode) error {
	return updateNode(ctx, ts.tx, n)
}

func (ts *txStore) AppendEntry(ctx context.Context, e *network.LedgerEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) FindEntry(ctx context.Context, id string) (*network.LedgerEntry, error) {
	return findEntry(ctx, ts.tx, id)
}

func (ts *txStore) EntriesByUser(ctx context.Context, userID string) ([]*network.LedgerEntry, error) {
	return entriesByUser(ctx, ts.tx, userID)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e *network.LedgerEntry) error {
	return updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) FindAffiliation(ctx context.Context, id string) (*network.Affiliation, error) {
	return findAffiliation(ctx, ts.tx, id)
}

func (ts *txStore) AffiliationsByUser(ctx context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	return affiliationsByUser(ctx, ts.tx, userID, status)
}

func (ts *txStore) InsertAffiliation(ctx context.Context, a *network.Affiliation) error {
	return insertAffiliation(ctx, ts.tx, a)
}

func (ts *txStore) UpdateAffiliation(ctx context.Context, a *network.Affiliation) error {
	return updateAffiliation(ctx, ts.tx, a)
}

func (ts *txStore) DeleteAffiliation(ctx context.Context, id string) error {
	return deleteAffiliation(ctx, ts.tx, id)
}

func (ts *txStore) FindActivation(ctx context.Context, id string) (*network.Activation, error) {
	return findActivation(ctx, ts.tx, id)
}

func (ts *txStore) InsertActivation(ctx context.Context, a *network.Activation) error {
	return insertActivation(ctx, ts.tx, a)
}

func (ts *txStore) UpdateActivation(ctx context.Context, a *network.Activation) error {
	return updateActivation(ctx, ts.tx, a)
}

func (ts *txStore) DeleteActivation(ctx context.Context, id string) error {
	return deleteActivation(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entries", "affiliations", "activations", "nodes", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return network.ErrNotFound
	}
	return nil
}
