/*
Package sqlite provides a SQLite-backed implementation of the reserve
storage interfaces.

PURPOSE:
  Implements reserve.TxRepository and reserve.OfferSource using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  offers:              Offer facts consumed from the offer subsystem
  members:             Member records (profile count for notifications)
  allocation_reserves: The reserves themselves

CONCURRENCY:
  Capacity decisions must not race: the aggregate share sums and the
  insert/update they justify commit together. WithTx holds the store
  mutex and a single SQL transaction for the whole validate+persist
  sequence, making it the per-offer serialization point. SQLite's single
  writer does the rest; on PostgreSQL an advisory lock keyed by offer id
  would replace the mutex.

AGGREGATES:
  SumReservedShares counts only non-terminal reserves (pending,
  approved). Terminal reserves stay on record for audit but release
  their shares.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  behind the writer.

USAGE:
  store, err := sqlite.New("./data/reserves.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - reserve/ports.go: Interface definitions
  - reserve/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/reserve"
)

// Store implements reserve.TxRepository and reserve.OfferSource.
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

	// One connection: SQLite has a single writer anyway, and a pooled
	// ":memory:" database would otherwise open one empty DB per connection.
	db.SetMaxOpenConns(1)

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
	-- Offer facts, mirrored from the offer-management subsystem
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		company_name TEXT NOT NULL,
		share_price TEXT NOT NULL,
		minimum_parcel_shares INTEGER NOT NULL,
		maximum_parcel_shares INTEGER NOT NULL,
		shares_on_offer INTEGER NOT NULL,
		open_date TEXT NOT NULL,
		close_date TEXT NOT NULL,
		allow_when_exceeded INTEGER NOT NULL DEFAULT 0,
		application_id TEXT NOT NULL,
		auto_approve INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		investment_profiles INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS allocation_reserves (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		maximum_parcel_shares INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_by_mobile_app INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (offer_id) REFERENCES offers(id)
	);

	-- Capacity sums are the hot path: offer + status, optionally member
	CREATE INDEX IF NOT EXISTS idx_reserves_offer_status
		ON allocation_reserves(offer_id, status);
	CREATE INDEX IF NOT EXISTS idx_reserves_offer_member_status
		ON allocation_reserves(offer_id, member_id, status);
	CREATE INDEX IF NOT EXISTS idx_reserves_member
		ON allocation_reserves(member_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the query helpers
// run inside or outside a transaction unchanged.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// OFFERS (reserve.OfferSource)
// =============================================================================

// SaveOffer upserts an offer record. Offer management is external; this
// is the ingestion seam for its facts.
func (s *Store) SaveOffer(ctx context.Context, o *reserve.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO offers
		(id, company_name, share_price, minimum_parcel_shares, maximum_parcel_shares,
		 shares_on_offer, open_date, close_date, allow_when_exceeded, application_id, auto_approve)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_name = excluded.company_name,
			share_price = excluded.share_price,
			minimum_parcel_shares = excluded.minimum_parcel_shares,
			maximum_parcel_shares = excluded.maximum_parcel_shares,
			shares_on_offer = excluded.shares_on_offer,
			open_date = excluded.open_date,
			close_date = excluded.close_date,
			allow_when_exceeded = excluded.allow_when_exceeded,
			application_id = excluded.application_id,
			auto_approve = excluded.auto_approve
	`

	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.CompanyName,
		o.SharePrice.String(),
		o.MinimumParcelShares,
		o.MaximumParcelShares,
		o.SharesOnOffer,
		o.OpenDate.UTC().Format(time.RFC3339),
		o.CloseDate.UTC().Format(time.RFC3339),
		boolToInt(o.AllowWhenExceeded),
		o.Application.ID,
		boolToInt(o.Application.AutoApprove),
	)
	if err != nil {
		return fmt.Errorf("failed to save offer: %w", err)
	}
	return nil
}

// GetOffer returns an offer, or nil when absent.
func (s *Store) GetOffer(ctx context.Context, id reserve.OfferID) (*reserve.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_name, share_price, minimum_parcel_shares, maximum_parcel_shares,
		       shares_on_offer, open_date, close_date, allow_when_exceeded, application_id, auto_approve
		FROM offers WHERE id = ?
	`

	offer, err := scanOffer(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// ListOffers returns all offers. Used by the auto-approval sweep.
func (s *Store) ListOffers(ctx context.Context) ([]*reserve.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_name, share_price, minimum_parcel_shares, maximum_parcel_shares,
		       shares_on_offer, open_date, close_date, allow_when_exceeded, application_id, auto_approve
		FROM offers ORDER BY open_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*reserve.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func scanOffer(row rowScanner) (*reserve.Offer, error) {
	var (
		o                        reserve.Offer
		price, openStr, closeStr string
		allowExceeded, autoAppr  int
	)

	err := row.Scan(&o.ID, &o.CompanyName, &price, &o.MinimumParcelShares, &o.MaximumParcelShares,
		&o.SharesOnOffer, &openStr, &closeStr, &allowExceeded, &o.Application.ID, &autoAppr)
	if err != nil {
		return nil, err
	}

	o.SharePrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid share price %q: %w", price, err)
	}
	o.OpenDate, err = time.Parse(time.RFC3339, openStr)
	if err != nil {
		return nil, fmt.Errorf("invalid open date %q: %w", openStr, err)
	}
	o.CloseDate, err = time.Parse(time.RFC3339, closeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid close date %q: %w", closeStr, err)
	}
	o.AllowWhenExceeded = allowExceeded != 0
	o.Application.AutoApprove = autoAppr != 0
	return &o, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

// SaveMember upserts a member record.
func (s *Store) SaveMember(ctx context.Context, m *reserve.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO members (id, name, email, investment_profiles, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			investment_profiles = excluded.investment_profiles
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Name, m.Email, m.InvestmentProfiles,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// GetMember returns a member, or nil when absent.
func (s *Store) GetMember(ctx context.Context, id reserve.MemberID) (*reserve.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m reserve.Member
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, investment_profiles FROM members WHERE id = ?", id,
	).Scan(&m.ID, &m.Name, &m.Email, &m.InvestmentProfiles)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// =============================================================================
// ALLOCATION RESERVES (reserve.Repository)
// =============================================================================

func (s *Store) FindByIDAndOwner(ctx context.Context, id reserve.ReserveID, owner reserve.MemberID) (*reserve.AllocationReserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findReserve(ctx, s.db, id, owner)
}

func (s *Store) Save(ctx context.Context, r *reserve.AllocationReserve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReserve(ctx, s.db, r)
}

func (s *Store) Delete(ctx context.Context, id reserve.ReserveID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteReserve(ctx, s.db, id)
}

func (s *Store) SumReservedShares(ctx context.Context, offerID reserve.OfferID, exclude reserve.ReserveID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumReserved(ctx, s.db, offerID, "", exclude)
}

func (s *Store) SumReservedSharesByMember(ctx context.Context, offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumReserved(ctx, s.db, offerID, member, exclude)
}

func (s *Store) ListPendingByOffer(ctx context.Context, offerID reserve.OfferID) ([]*reserve.AllocationReserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPending(ctx, s.db, offerID)
}

// =============================================================================
// TRANSACTIONS (reserve.TxRepository)
// =============================================================================

// WithTx executes fn inside a single SQL transaction while holding the
// store write lock. The aggregate sums read inside fn and the write that
// depends on them commit atomically; concurrent capacity decisions
// serialize here.
func (s *Store) WithTx(ctx context.Context, fn func(reserve.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txRepo{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txRepo struct {
	tx *sql.Tx
}

func (t *txRepo) FindByIDAndOwner(ctx context.Context, id reserve.ReserveID, owner reserve.MemberID) (*reserve.AllocationReserve, error) {
	return findReserve(ctx, t.tx, id, owner)
}

func (t *txRepo) Save(ctx context.Context, r *reserve.AllocationReserve) error {
	return saveReserve(ctx, t.tx, r)
}

func (t *txRepo) Delete(ctx context.Context, id reserve.ReserveID) error {
	return deleteReserve(ctx, t.tx, id)
}

func (t *txRepo) SumReservedShares(ctx context.Context, offerID reserve.OfferID, exclude reserve.ReserveID) (int64, error) {
	return sumReserved(ctx, t.tx, offerID, "", exclude)
}

func (t *txRepo) SumReservedSharesByMember(ctx context.Context, offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) (int64, error) {
	return sumReserved(ctx, t.tx, offerID, member, exclude)
}

func (t *txRepo) ListPendingByOffer(ctx context.Context, offerID reserve.OfferID) ([]*reserve.AllocationReserve, error) {
	return listPending(ctx, t.tx, offerID)
}

// =============================================================================
// SHARED QUERY HELPERS
// =============================================================================

func findReserve(ctx context.Context, db dbtx, id reserve.ReserveID, owner reserve.MemberID) (*reserve.AllocationReserve, error) {
	query := `
		SELECT id, offer_id, member_id, amount, maximum_parcel_shares, status,
		       created_by_mobile_app, created_at, updated_at
		FROM allocation_reserves
		WHERE id = ? AND member_id = ?
	`

	r, err := scanReserve(db.QueryRowContext(ctx, query, id, owner))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reserve: %w", err)
	}
	return r, nil
}

func saveReserve(ctx context.Context, db dbtx, r *reserve.AllocationReserve) error {
	query := `
		INSERT INTO allocation_reserves
		(id, offer_id, member_id, amount, maximum_parcel_shares, status,
		 created_by_mobile_app, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			maximum_parcel_shares = excluded.maximum_parcel_shares,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		r.ID,
		r.OfferID,
		r.MemberID,
		r.Amount.String(),
		r.Shares,
		r.Status,
		boolToInt(r.CreatedByMobileApp),
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reserve: %w", err)
	}
	return nil
}

func deleteReserve(ctx context.Context, db dbtx, id reserve.ReserveID) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM allocation_reserves WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete reserve: %w", err)
	}
	return nil
}

// sumReserved sums shares across non-terminal reserves. member narrows
// to one member; exclude drops one reserve id from the sum.
func sumReserved(ctx context.Context, db dbtx, offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(maximum_parcel_shares), 0)
		FROM allocation_reserves
		WHERE offer_id = ? AND status IN (?, ?)
	`
	args := []any{offerID, reserve.StatusPending, reserve.StatusApproved}

	if member != "" {
		query += " AND member_id = ?"
		args = append(args, member)
	}
	if exclude != "" {
		query += " AND id <> ?"
		args = append(args, exclude)
	}

	var total int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum reserved shares: %w", err)
	}
	return total, nil
}

func listPending(ctx context.Context, db dbtx, offerID reserve.OfferID) ([]*reserve.AllocationReserve, error) {
	query := `
		SELECT id, offer_id, member_id, amount, maximum_parcel_shares, status,
		       created_by_mobile_app, created_at, updated_at
		FROM allocation_reserves
		WHERE offer_id = ? AND status = ?
		ORDER BY created_at ASC
	`

	rows, err := db.QueryContext(ctx, query, offerID, reserve.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reserves: %w", err)
	}
	defer rows.Close()

	var out []*reserve.AllocationReserve
	for rows.Next() {
		r, err := scanReserve(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReserve(row rowScanner) (*reserve.AllocationReserve, error) {
	var (
		r                            reserve.AllocationReserve
		amount, createdAt, updatedAt string
		viaMobile                    int
	)

	err := row.Scan(&r.ID, &r.OfferID, &r.MemberID, &amount, &r.Shares, &r.Status,
		&viaMobile, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	r.CreatedByMobileApp = viaMobile != 0
	return &r, nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears all tables. Dev/test only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"allocation_reserves", "members", "offers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
