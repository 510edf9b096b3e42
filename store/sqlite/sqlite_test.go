package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/reserve"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleOffer(id reserve.OfferID) *reserve.Offer {
	return &reserve.Offer{
		ID:                  id,
		CompanyName:         "Acme Ltd",
		SharePrice:          dec("2.50"),
		MinimumParcelShares: 5,
		MaximumParcelShares: 40,
		SharesOnOffer:       100,
		OpenDate:            time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		CloseDate:           time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		AllowWhenExceeded:   true,
		Application:         reserve.Application{ID: "app-1", AutoApprove: true},
	}
}

func sampleReserve(id reserve.ReserveID, offer reserve.OfferID, member reserve.MemberID, shares int64, status reserve.Status) *reserve.AllocationReserve {
	created := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	return &reserve.AllocationReserve{
		ID:        id,
		OfferID:   offer,
		MemberID:  member,
		Amount:    reserve.SharesToAmount(shares, dec("2.50")),
		Shares:    shares,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// =============================================================================
// OFFERS
// =============================================================================

func TestOffer_SaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	offer := sampleOffer("offer-1")
	require.NoError(t, store.SaveOffer(ctx, offer))

	got, err := store.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, offer.CompanyName, got.CompanyName)
	assert.True(t, offer.SharePrice.Equal(got.SharePrice), "share price must survive storage exactly")
	assert.Equal(t, offer.MinimumParcelShares, got.MinimumParcelShares)
	assert.Equal(t, offer.SharesOnOffer, got.SharesOnOffer)
	assert.True(t, offer.OpenDate.Equal(got.OpenDate))
	assert.True(t, offer.CloseDate.Equal(got.CloseDate))
	assert.True(t, got.AllowWhenExceeded)
	assert.Equal(t, offer.Application, got.Application)
}

func TestOffer_GetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetOffer(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOffer_SaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	offer := sampleOffer("offer-1")
	require.NoError(t, store.SaveOffer(ctx, offer))

	offer.SharePrice = dec("3.00")
	offer.SharesOnOffer = 200
	require.NoError(t, store.SaveOffer(ctx, offer))

	got, err := store.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.True(t, dec("3.00").Equal(got.SharePrice))
	assert.Equal(t, int64(200), got.SharesOnOffer)
}

func TestOffer_ListOrdersByOpenDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	late := sampleOffer("offer-late")
	late.OpenDate = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	early := sampleOffer("offer-early")
	early.OpenDate = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveOffer(ctx, late))
	require.NoError(t, store.SaveOffer(ctx, early))

	offers, err := store.ListOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, reserve.OfferID("offer-early"), offers[0].ID)
	assert.Equal(t, reserve.OfferID("offer-late"), offers[1].ID)
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestMember_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := &reserve.Member{ID: "m-1", Name: "Jess Doe", Email: "jess@example.com", InvestmentProfiles: 2}
	require.NoError(t, store.SaveMember(ctx, m))

	got, err := store.GetMember(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m, got)

	missing, err := store.GetMember(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// RESERVES
// =============================================================================

func seedStore(t *testing.T, store *sqlite.Store) {
	t.Helper()
	require.NoError(t, store.SaveOffer(context.Background(), sampleOffer("offer-1")))
}

func TestReserve_SaveAndFindByOwner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	r := sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)
	r.CreatedByMobileApp = true
	require.NoError(t, store.Save(ctx, r))

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, r.Amount.Equal(got.Amount))
	assert.Equal(t, int64(10), got.Shares)
	assert.Equal(t, reserve.StatusPending, got.Status)
	assert.True(t, got.CreatedByMobileApp)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
}

func TestReserve_FindScopedToOwner(t *testing.T) {
	// A reserve id is only visible to the member who owns it.
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReserve_SaveUpsertsMutableFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	r := sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)
	require.NoError(t, store.Save(ctx, r))

	r.Shares = 6
	r.Amount = reserve.SharesToAmount(6, dec("2.50"))
	r.Status = reserve.StatusApproved
	r.UpdatedAt = r.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.Save(ctx, r))

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Shares)
	assert.Equal(t, reserve.StatusApproved, got.Status)
	assert.True(t, r.UpdatedAt.Equal(got.UpdatedAt))
}

func TestReserve_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))
	require.NoError(t, store.Delete(ctx, "r-1"))

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestSumReservedShares_CountsOnlyNonTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))
	require.NoError(t, store.Save(ctx, sampleReserve("r-2", "offer-1", "m-2", 20, reserve.StatusApproved)))
	require.NoError(t, store.Save(ctx, sampleReserve("r-3", "offer-1", "m-3", 40, reserve.StatusFailedToComplete)))

	total, err := store.SumReservedShares(ctx, "offer-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), total, "terminal reserves release their shares")
}

func TestSumReservedShares_ExcludesGivenReserve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))
	require.NoError(t, store.Save(ctx, sampleReserve("r-2", "offer-1", "m-1", 20, reserve.StatusApproved)))

	total, err := store.SumReservedShares(ctx, "offer-1", "r-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
}

func TestSumReservedSharesByMember(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))
	require.NoError(t, store.Save(ctx, sampleReserve("r-2", "offer-1", "m-2", 20, reserve.StatusApproved)))

	total, err := store.SumReservedSharesByMember(ctx, "offer-1", "m-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestSumReservedShares_EmptyOfferIsZero(t *testing.T) {
	store := newTestStore(t)

	total, err := store.SumReservedShares(context.Background(), "offer-nothing", "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListPendingByOffer_OrdersByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	second := sampleReserve("r-2", "offer-1", "m-2", 10, reserve.StatusPending)
	second.CreatedAt = second.CreatedAt.Add(time.Hour)
	first := sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)
	approved := sampleReserve("r-3", "offer-1", "m-3", 10, reserve.StatusApproved)

	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, approved))

	pending, err := store.ListPendingByOffer(ctx, "offer-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, reserve.ReserveID("r-1"), pending[0].ID)
	assert.Equal(t, reserve.ReserveID("r-2"), pending[1].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	err := store.WithTx(ctx, func(repo reserve.Repository) error {
		return repo.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending))
	})
	require.NoError(t, err)

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(repo reserve.Repository) error {
		if err := repo.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	assert.Nil(t, got, "writes inside a failed transaction must not persist")
}

func TestWithTx_SumsSeeUncommittedWrites(t *testing.T) {
	// The capacity check and the write it justifies must share one view.
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)

	err := store.WithTx(ctx, func(repo reserve.Repository) error {
		if err := repo.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)); err != nil {
			return err
		}
		total, err := repo.SumReservedShares(ctx, "offer-1", "")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(10), total)
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func TestReset_ClearsAllTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStore(t, store)
	require.NoError(t, store.SaveMember(ctx, &reserve.Member{ID: "m-1", Name: "Jess", Email: "j@example.com"}))
	require.NoError(t, store.Save(ctx, sampleReserve("r-1", "offer-1", "m-1", 10, reserve.StatusPending)))

	require.NoError(t, store.Reset(ctx))

	offer, err := store.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Nil(t, offer)

	m, err := store.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Nil(t, m)

	r, err := store.FindByIDAndOwner(ctx, "r-1", "m-1")
	require.NoError(t, err)
	assert.Nil(t, r)
}
