// Package store provides in-memory Repository and OfferSource
// implementations (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/reserve"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements reserve.TxRepository and reserve.OfferSource.
// WithTx serializes on a single mutex, which doubles as the per-offer
// serialization point the commit path needs.
type Memory struct {
	mu       sync.Mutex
	reserves map[reserve.ReserveID]*reserve.AllocationReserve
	offers   map[reserve.OfferID]*reserve.Offer
	members  map[reserve.MemberID]*reserve.Member
}

func NewMemory() *Memory {
	return &Memory{
		reserves: make(map[reserve.ReserveID]*reserve.AllocationReserve),
		offers:   make(map[reserve.OfferID]*reserve.Offer),
		members:  make(map[reserve.MemberID]*reserve.Member),
	}
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// PutOffer stores an offer. Offers are owned by the (external) offer
// subsystem; this is the test/dev seam for seeding them.
func (m *Memory) PutOffer(o *reserve.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.ID] = &cp
}

// PutMember stores a member record.
func (m *Memory) PutMember(mb *reserve.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mb
	m.members[mb.ID] = &cp
}

// GetMember returns a member, or nil when absent.
func (m *Memory) GetMember(_ context.Context, id reserve.MemberID) (*reserve.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	cp := *mb
	return &cp, nil
}

// =============================================================================
// OFFER SOURCE
// =============================================================================

func (m *Memory) GetOffer(_ context.Context, id reserve.OfferID) (*reserve.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// =============================================================================
// REPOSITORY
// =============================================================================

func (m *Memory) FindByIDAndOwner(_ context.Context, id reserve.ReserveID, owner reserve.MemberID) (*reserve.AllocationReserve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(id, owner), nil
}

func (m *Memory) Save(_ context.Context, r *reserve.AllocationReserve) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(r)
}

func (m *Memory) Delete(_ context.Context, id reserve.ReserveID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) SumReservedShares(_ context.Context, offerID reserve.OfferID, exclude reserve.ReserveID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(offerID, "", exclude), nil
}

func (m *Memory) SumReservedSharesByMember(_ context.Context, offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumLocked(offerID, member, exclude), nil
}

func (m *Memory) ListPendingByOffer(_ context.Context, offerID reserve.OfferID) ([]*reserve.AllocationReserve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPendingLocked(offerID), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn while holding the store lock, giving fn a consistent
// view from first read to commit. On error the reserve map is restored,
// so a failed decision leaves no partial state.
func (m *Memory) WithTx(ctx context.Context, fn func(reserve.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[reserve.ReserveID]*reserve.AllocationReserve, len(m.reserves))
	for id, r := range m.reserves {
		cp := *r
		snapshot[id] = &cp
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.reserves = snapshot
		return err
	}
	return nil
}

// memTx is the in-transaction view. The parent already holds the lock,
// so it calls the unlocked internals directly.
type memTx struct {
	m *Memory
}

func (t *memTx) FindByIDAndOwner(_ context.Context, id reserve.ReserveID, owner reserve.MemberID) (*reserve.AllocationReserve, error) {
	return t.m.findLocked(id, owner), nil
}

func (t *memTx) Save(_ context.Context, r *reserve.AllocationReserve) error {
	return t.m.saveLocked(r)
}

func (t *memTx) Delete(_ context.Context, id reserve.ReserveID) error {
	return t.m.deleteLocked(id)
}

func (t *memTx) SumReservedShares(_ context.Context, offerID reserve.OfferID, exclude reserve.ReserveID) (int64, error) {
	return t.m.sumLocked(offerID, "", exclude), nil
}

func (t *memTx) SumReservedSharesByMember(_ context.Context, offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) (int64, error) {
	return t.m.sumLocked(offerID, member, exclude), nil
}

func (t *memTx) ListPendingByOffer(_ context.Context, offerID reserve.OfferID) ([]*reserve.AllocationReserve, error) {
	return t.m.listPendingLocked(offerID), nil
}

// =============================================================================
// UNLOCKED INTERNALS
// =============================================================================

func (m *Memory) findLocked(id reserve.ReserveID, owner reserve.MemberID) *reserve.AllocationReserve {
	r, ok := m.reserves[id]
	if !ok || r.MemberID != owner {
		return nil
	}
	cp := *r
	return &cp
}

func (m *Memory) saveLocked(r *reserve.AllocationReserve) error {
	cp := *r
	m.reserves[r.ID] = &cp
	return nil
}

func (m *Memory) deleteLocked(id reserve.ReserveID) error {
	delete(m.reserves, id)
	return nil
}

func (m *Memory) sumLocked(offerID reserve.OfferID, member reserve.MemberID, exclude reserve.ReserveID) int64 {
	var total int64
	for _, r := range m.reserves {
		if r.OfferID != offerID || r.ID == exclude || !r.CountsTowardCapacity() {
			continue
		}
		if member != "" && r.MemberID != member {
			continue
		}
		total += r.Shares
	}
	return total
}

func (m *Memory) listPendingLocked(offerID reserve.OfferID) []*reserve.AllocationReserve {
	var out []*reserve.AllocationReserve
	for _, r := range m.reserves {
		if r.OfferID == offerID && r.Status == reserve.StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
