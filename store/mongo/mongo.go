/*
Package mongo provides a MongoDB-backed implementation of the storage interfaces.

PURPOSE:
  Implements network.TxStore over mongo-driver. This is the production
  store: one collection per entity, decimals stored as strings to keep
  exact values, ErrNoDocuments mapped to network.ErrNotFound.

TRANSACTIONS:
  WithTx uses a driver session and requires the server to run as a
  replica set (a single-node replica set is enough). Every store call
  made through the transactional view is bound to the session context,
  so a failed approval rolls back across collections.

COLLECTIONS:
  users:         Member records, unique index on dni
  nodes:         Sponsor tree (ordered childs array)
  entries:       Value ledger, index on user_id + date
  affiliations:  Plan purchases, index on user_id + status
  activations:   Product purchases, index on user_id + status

SEE ALSO:
  - network/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite implementation
*/
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orbit/network-engine/network"
)

// Store implements network.TxStore over a MongoDB database.
type Store struct {
	client       *mongo.Client
	users        *mongo.Collection
	nodes        *mongo.Collection
	entries      *mongo.Collection
	affiliations *mongo.Collection
	activations  *mongo.Collection
}

// New connects to MongoDB and prepares the collections and indexes.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:       client,
		users:        db.Collection("users"),
		nodes:        db.Collection("nodes"),
		entries:      db.Collection("entries"),
		affiliations: db.Collection("affiliations"),
		activations:  db.Collection("activations"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "dni", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}
	if _, err := s.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := s.affiliations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.activations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}},
	})
	return err
}

// =============================================================================
// DOCUMENT MAPPING - Decimals stored as strings for exactness
// =============================================================================

type userDoc struct {
	ID                string     `bson:"_id"`
	DNI               string     `bson:"dni"`
	Name              string     `bson:"name"`
	LastName          string     `bson:"last_name"`
	Email             string     `bson:"email,omitempty"`
	Phone             string     `bson:"phone,omitempty"`
	Country           string     `bson:"country,omitempty"`
	ParentID          string     `bson:"parent_id,omitempty"`
	Plan              string     `bson:"plan"`
	Levels            int        `bson:"levels"`
	Points            float64    `bson:"points"`
	AffiliationPoints float64    `bson:"affiliation_points"`
	TotalPoints       float64    `bson:"total_points"`
	Activated         bool       `bson:"activated"`
	SoftActivated     bool       `bson:"soft_activated"`
	Affiliated        bool       `bson:"affiliated"`
	AffiliationDate   *time.Time `bson:"affiliation_date,omitempty"`
	Rank              string     `bson:"rank"`
	Closed            bool       `bson:"closed"`
	UpgradeArr        [2]string  `bson:"upgrade_arr"`
	UpgradePos        int        `bson:"upgrade_pos"`
	CreatedAt         time.Time  `bson:"created_at"`
}

func toUserDoc(u *network.User) userDoc {
	return userDoc{
		ID: u.ID, DNI: u.DNI, Name: u.Name, LastName: u.LastName,
		Email: u.Email, Phone: u.Phone, Country: u.Country, ParentID: u.ParentID,
		Plan: string(u.Plan), Levels: u.Levels,
		Points: u.Points, AffiliationPoints: u.AffiliationPoints, TotalPoints: u.TotalPoints,
		Activated: u.Activated, SoftActivated: u.SoftActivated,
		Affiliated: u.Affiliated, AffiliationDate: u.AffiliationDate,
		Rank: string(u.Rank), Closed: u.Closed,
		UpgradeArr: [2]string{u.UpgradeArr[0].String(), u.UpgradeArr[1].String()},
		UpgradePos: u.UpgradePos,
		CreatedAt:  u.CreatedAt,
	}
}

func (d userDoc) toUser() *network.User {
	return &network.User{
		ID: d.ID, DNI: d.DNI, Name: d.Name, LastName: d.LastName,
		Email: d.Email, Phone: d.Phone, Country: d.Country, ParentID: d.ParentID,
		Plan: network.Plan(d.Plan), Levels: d.Levels,
		Points: d.Points, AffiliationPoints: d.AffiliationPoints, TotalPoints: d.TotalPoints,
		Activated: d.Activated, SoftActivated: d.SoftActivated,
		Affiliated: d.Affiliated, AffiliationDate: d.AffiliationDate,
		Rank: network.Rank(d.Rank), Closed: d.Closed,
		UpgradeArr: [2]decimal.Decimal{parseDecimal(d.UpgradeArr[0]), parseDecimal(d.UpgradeArr[1])},
		UpgradePos: d.UpgradePos,
		CreatedAt:  d.CreatedAt,
	}
}

type nodeDoc struct {
	ID     string   `bson:"_id"`
	Parent string   `bson:"parent,omitempty"`
	Childs []string `bson:"childs"`
}

type entryDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	OriginUserID   string    `bson:"origin_user_id,omitempty"`
	Date           time.Time `bson:"date"`
	Type           string    `bson:"type"`
	Value          string    `bson:"value"`
	Virtual        bool      `bson:"virtual"`
	Name           string    `bson:"name,omitempty"`
	Deleted        bool      `bson:"deleted"`
	IsReversal     bool      `bson:"is_reversal"`
	RelatedEntryID string    `bson:"related_entry_id,omitempty"`
}

func toEntryDoc(e *network.LedgerEntry) entryDoc {
	return entryDoc{
		ID: e.ID, UserID: e.UserID, OriginUserID: e.OriginUserID,
		Date: e.Date, Type: string(e.Type), Value: e.Value.String(),
		Virtual: e.Virtual, Name: e.Name, Deleted: e.Deleted,
		IsReversal: e.IsReversal, RelatedEntryID: e.RelatedEntryID,
	}
}

func (d entryDoc) toEntry() *network.LedgerEntry {
	return &network.LedgerEntry{
		ID: d.ID, UserID: d.UserID, OriginUserID: d.OriginUserID,
		Date: d.Date, Type: network.EntryType(d.Type), Value: parseDecimal(d.Value),
		Virtual: d.Virtual, Name: d.Name, Deleted: d.Deleted,
		IsReversal: d.IsReversal, RelatedEntryID: d.RelatedEntryID,
	}
}

type affiliationDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	Date         time.Time `bson:"date"`
	Status       string    `bson:"status"`
	Plan         string    `bson:"plan"`
	Price        string    `bson:"price"`
	Amounts      [3]string `bson:"amounts"`
	Transactions []string  `bson:"transactions"`
}

func toAffiliationDoc(a *network.Affiliation) affiliationDoc {
	return affiliationDoc{
		ID: a.ID, UserID: a.UserID, Date: a.Date, Status: string(a.Status),
		Plan: string(a.Plan), Price: a.Price.String(),
		Amounts:      [3]string{a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String()},
		Transactions: a.Transactions,
	}
}

func (d affiliationDoc) toAffiliation() *network.Affiliation {
	return &network.Affiliation{
		ID: d.ID, UserID: d.UserID, Date: d.Date, Status: network.PurchaseStatus(d.Status),
		Plan: network.Plan(d.Plan), Price: parseDecimal(d.Price),
		Amounts: [3]decimal.Decimal{
			parseDecimal(d.Amounts[0]), parseDecimal(d.Amounts[1]), parseDecimal(d.Amounts[2]),
		},
		Transactions: d.Transactions,
	}
}

type productDoc struct {
	ProductID string  `bson:"product_id"`
	Units     int     `bson:"units"`
	Price     string  `bson:"price"`
	Points    float64 `bson:"points"`
}

type activationDoc struct {
	ID           string       `bson:"_id"`
	UserID       string       `bson:"user_id"`
	Date         time.Time    `bson:"date"`
	Status       string       `bson:"status"`
	Products     []productDoc `bson:"products"`
	Price        string       `bson:"price"`
	Points       float64      `bson:"points"`
	Amounts      [3]string    `bson:"amounts"`
	Transactions []string     `bson:"transactions"`
}

func toActivationDoc(a *network.Activation) activationDoc {
	products := make([]productDoc, 0, len(a.Products))
	for _, p := range a.Products {
		products = append(products, productDoc{
			ProductID: p.ProductID, Units: p.Units,
			Price: p.Price.String(), Points: p.Points,
		})
	}
	return activationDoc{
		ID: a.ID, UserID: a.UserID, Date: a.Date, Status: string(a.Status),
		Products: products, Price: a.Price.String(), Points: a.Points,
		Amounts:      [3]string{a.Amounts[0].String(), a.Amounts[1].String(), a.Amounts[2].String()},
		Transactions: a.Transactions,
	}
}

func (d activationDoc) toActivation() *network.Activation {
	products := make([]network.ProductLine, 0, len(d.Products))
	for _, p := range d.Products {
		products = append(products, network.ProductLine{
			ProductID: p.ProductID, Units: p.Units,
			Price: parseDecimal(p.Price), Points: p.Points,
		})
	}
	return &network.Activation{
		ID: d.ID, UserID: d.UserID, Date: d.Date, Status: network.PurchaseStatus(d.Status),
		Products: products, Price: parseDecimal(d.Price), Points: d.Points,
		Amounts: [3]decimal.Decimal{
			parseDecimal(d.Amounts[0]), parseDecimal(d.Amounts[1]), parseDecimal(d.Amounts[2]),
		},
		Transactions: d.Transactions,
	}
}

func parseDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func mapErr(err error) error {
	if err == mongo.ErrNoDocuments {
		return network.ErrNotFound
	}
	return err
}

// =============================================================================
// USER STORE
// =============================================================================

func (s *Store) FindUser(ctx context.Context, id string) (*network.User, error) {
	var d userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return d.toUser(), nil
}

func (s *Store) FindUserByDNI(ctx context.Context, dni string) (*network.User, error) {
	var d userDoc
	if err := s.users.FindOne(ctx, bson.M{"dni": dni}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return d.toUser(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*network.User, error) {
	cur, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []*network.User
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		users = append(users, d.toUser())
	}
	return users, cur.Err()
}

func (s *Store) InsertUser(ctx context.Context, u *network.User) error {
	_, err := s.users.InsertOne(ctx, toUserDoc(u))
	return err
}

func (s *Store) UpdateUser(ctx context.Context, u *network.User) error {
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, toUserDoc(u))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

// =============================================================================
// TREE STORE
// =============================================================================

func (s *Store) FindNode(ctx context.Context, id string) (*network.TreeNode, error) {
	var d nodeDoc
	if err := s.nodes.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return &network.TreeNode{ID: d.ID, Parent: d.Parent, Childs: d.Childs}, nil
}

func (s *Store) ListNodes(ctx context.Context) ([]*network.TreeNode, error) {
	cur, err := s.nodes.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var nodes []*network.TreeNode
	for cur.Next(ctx) {
		var d nodeDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		nodes = append(nodes, &network.TreeNode{ID: d.ID, Parent: d.Parent, Childs: d.Childs})
	}
	return nodes, cur.Err()
}

func (s *Store) InsertNode(ctx context.Context, n *network.TreeNode) error {
	childs := n.Childs
	if childs == nil {
		childs = []string{}
	}
	_, err := s.nodes.InsertOne(ctx, nodeDoc{ID: n.ID, Parent: n.Parent, Childs: childs})
	return err
}

func (s *Store) UpdateNode(ctx context.Context, n *network.TreeNode) error {
	childs := n.Childs
	if childs == nil {
		childs = []string{}
	}
	res, err := s.nodes.ReplaceOne(ctx, bson.M{"_id": n.ID},
		nodeDoc{ID: n.ID, Parent: n.Parent, Childs: childs})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e *network.LedgerEntry) error {
	_, err := s.entries.InsertOne(ctx, toEntryDoc(e))
	return err
}

func (s *Store) FindEntry(ctx context.Context, id string) (*network.LedgerEntry, error) {
	var d entryDoc
	if err := s.entries.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return d.toEntry(), nil
}

func (s *Store) EntriesByUser(ctx context.Context, userID string) ([]*network.LedgerEntry, error) {
	cur, err := s.entries.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []*network.LedgerEntry
	for cur.Next(ctx) {
		var d entryDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		entries = append(entries, d.toEntry())
	}
	return entries, cur.Err()
}

// UpdateEntry flips the virtual and deleted flags only; the rest of a
// stored entry is immutable.
func (s *Store) UpdateEntry(ctx context.Context, e *network.LedgerEntry) error {
	res, err := s.entries.UpdateOne(ctx, bson.M{"_id": e.ID}, bson.M{
		"$set": bson.M{"virtual": e.Virtual, "deleted": e.Deleted},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

// =============================================================================
// PURCHASE STORE
// =============================================================================

func (s *Store) FindAffiliation(ctx context.Context, id string) (*network.Affiliation, error) {
	var d affiliationDoc
	if err := s.affiliations.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return d.toAffiliation(), nil
}

func (s *Store) AffiliationsByUser(ctx context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	cur, err := s.affiliations.Find(ctx,
		bson.M{"user_id": userID, "status": string(status)},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var affs []*network.Affiliation
	for cur.Next(ctx) {
		var d affiliationDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		affs = append(affs, d.toAffiliation())
	}
	return affs, cur.Err()
}

func (s *Store) InsertAffiliation(ctx context.Context, a *network.Affiliation) error {
	_, err := s.affiliations.InsertOne(ctx, toAffiliationDoc(a))
	return err
}

func (s *Store) UpdateAffiliation(ctx context.Context, a *network.Affiliation) error {
	res, err := s.affiliations.ReplaceOne(ctx, bson.M{"_id": a.ID}, toAffiliationDoc(a))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAffiliation(ctx context.Context, id string) error {
	res, err := s.affiliations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

func (s *Store) FindActivation(ctx context.Context, id string) (*network.Activation, error) {
	var d activationDoc
	if err := s.activations.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, mapErr(err)
	}
	return d.toActivation(), nil
}

func (s *Store) InsertActivation(ctx context.Context, a *network.Activation) error {
	_, err := s.activations.InsertOne(ctx, toActivationDoc(a))
	return err
}

func (s *Store) UpdateActivation(ctx context.Context, a *network.Activation) error {
	res, err := s.activations.ReplaceOne(ctx, bson.M{"_id": a.ID}, toActivationDoc(a))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteActivation(ctx context.Context, id string) error {
	res, err := s.activations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return network.ErrNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (network.TxStore interface)
// =============================================================================

// WithTx executes fn inside a driver session transaction. The store
// handed to fn binds every call to the session context, so the caller's
// own context is intentionally ignored inside the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(network.Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sctx mongo.SessionContext) (any, error) {
		return nil, fn(&txView{parent: s, sctx: sctx})
	})
	return err
}

// txView rebinds every store call to the session context.
type txView struct {
	parent *Store
	sctx   mongo.SessionContext
}

func (tv *txView) FindUser(_ context.Context, id string) (*network.User, error) {
	return tv.parent.FindUser(tv.sctx, id)
}

func (tv *txView) FindUserByDNI(_ context.Context, dni string) (*network.User, error) {
	return tv.parent.FindUserByDNI(tv.sctx, dni)
}

func (tv *txView) ListUsers(_ context.Context) ([]*network.User, error) {
	return tv.parent.ListUsers(tv.sctx)
}

func (tv *txView) InsertUser(_ context.Context, u *network.User) error {
	return tv.parent.InsertUser(tv.sctx, u)
}

func (tv *txView) UpdateUser(_ context.Context, u *network.User) error {
	return tv.parent.UpdateUser(tv.sctx, u)
}

func (tv *txView) FindNode(_ context.Context, id string) (*network.TreeNode, error) {
	return tv.parent.FindNode(tv.sctx, id)
}

func (tv *txView) ListNodes(_ context.Context) ([]*network.TreeNode, error) {
	return tv.parent.ListNodes(tv.sctx)
}

func (tv *txView) InsertNode(_ context.Context, n *network.TreeNode) error {
	return tv.parent.InsertNode(tv.sctx, n)
}

func (tv *txView) UpdateNode(_ context.Context, n *network.TreeNode) error {
	return tv.parent.UpdateNode(tv.sctx, n)
}

func (tv *txView) AppendEntry(_ context.Context, e *network.LedgerEntry) error {
	return tv.parent.AppendEntry(tv.sctx, e)
}

func (tv *txView) FindEntry(_ context.Context, id string) (*network.LedgerEntry, error) {
	return tv.parent.FindEntry(tv.sctx, id)
}

func (tv *txView) EntriesByUser(_ context.Context, userID string) ([]*network.LedgerEntry, error) {
	return tv.parent.EntriesByUser(tv.sctx, userID)
}

func (tv *txView) UpdateEntry(_ context.Context, e *network.LedgerEntry) error {
	return tv.parent.UpdateEntry(tv.sctx, e)
}

func (tv *txView) FindAffiliation(_ context.Context, id string) (*network.Affiliation, error) {
	return tv.parent.FindAffiliation(tv.sctx, id)
}

func (tv *txView) AffiliationsByUser(_ context.Context, userID string, status network.PurchaseStatus) ([]*network.Affiliation, error) {
	return tv.parent.AffiliationsByUser(tv.sctx, userID, status)
}

func (tv *txView) InsertAffiliation(_ context.Context, a *network.Affiliation) error {
	return tv.parent.InsertAffiliation(tv.sctx, a)
}

func (tv *txView) UpdateAffiliation(_ context.Context, a *network.Affiliation) error {
	return tv.parent.UpdateAffiliation(tv.sctx, a)
}

func (tv *txView) DeleteAffiliation(_ context.Context, id string) error {
	return tv.parent.DeleteAffiliation(tv.sctx, id)
}

func (tv *txView) FindActivation(_ context.Context, id string) (*network.Activation, error) {
	return tv.parent.FindActivation(tv.sctx, id)
}

func (tv *txView) InsertActivation(_ context.Context, a *network.Activation) error {
	return tv.parent.InsertActivation(tv.sctx, a)
}

func (tv *txView) UpdateActivation(_ context.Context, a *network.Activation) error {
	return tv.parent.UpdateActivation(tv.sctx, a)
}

func (tv *txView) DeleteActivation(_ context.Context, id string) error {
	return tv.parent.DeleteActivation(tv.sctx, id)
}
