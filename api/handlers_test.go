package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/reserve"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

// clock is a fixed instant inside every test offer's window.
var clock = time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, reserve.Event) {}

type fixture struct {
	store  *sqlite.Store
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := reserve.NewEngine(store, store, nopNotifier{}, &api.Routes{BaseURL: "https://app.example.com"}, zerolog.Nop())
	engine.Now = func() time.Time { return clock }
	engine.Scope.Now = engine.Now

	handler := api.NewHandler(engine, store, "test-instance", zerolog.Nop())
	return &fixture{store: store, router: api.NewRouter(handler)}
}

// do issues a request through the full router. member is the value of the
// X-Member-ID header; empty means no header.
func (f *fixture) do(t *testing.T, method, path, member string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if member != "" {
		req.Header.Set("X-Member-ID", member)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func (f *fixture) seedOffer(t *testing.T, id string, capacity int64, autoApprove bool) {
	t.Helper()
	err := f.store.SaveOffer(context.Background(), &reserve.Offer{
		ID:                  reserve.OfferID(id),
		CompanyName:         "Acme Ltd",
		SharePrice:          decimal.RequireFromString("10"),
		MinimumParcelShares: 5,
		SharesOnOffer:       capacity,
		OpenDate:            time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		CloseDate:           time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		Application:         reserve.Application{ID: "app-1", AutoApprove: autoApprove},
	})
	require.NoError(t, err)
}

func (f *fixture) seedMember(t *testing.T, id string, profiles int) {
	t.Helper()
	err := f.store.SaveMember(context.Background(), &reserve.Member{
		ID: reserve.MemberID(id), Name: "Test Member", Email: "m@example.com", InvestmentProfiles: profiles,
	})
	require.NoError(t, err)
}

func str(s string) *string { return &s }

// createReserve drives a create through the API and returns the new id.
func (f *fixture) createReserve(t *testing.T, member, offerID, amount string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/offers/"+offerID+"/reserves", member,
		api.CreateReservationRequest{Amount: str(amount)})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var resp api.CreateReservationResponse
	decodeBody(t, rec, &resp)
	return resp.Data.AllocationReserveID
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAPI_MissingMemberHeader(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)

	rec := f.do(t, http.MethodGet, "/api/offers/offer-1/reserve-check", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "bad_request", resp.Error)
}

func TestAPI_UnknownMember(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)

	rec := f.do(t, http.MethodGet, "/api/offers/offer-1/reserve-check", "ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "not_found", resp.Error)
	assert.Equal(t, "Member not found", resp.Message)
}

// =============================================================================
// RESERVE CHECK
// =============================================================================

func TestAPI_ReserveCheck(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)

	rec := f.do(t, http.MethodGet, "/api/offers/offer-1/reserve-check", "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.CheckPossibilityResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "test-instance", resp.InstanceName)
	assert.Equal(t, "offer-1", resp.ReserveParams.OfferID)
	assert.Equal(t, int64(5), resp.ReserveParams.MinParcel)
	assert.Equal(t, "10", resp.ReserveParams.PricePerShare)
	require.NotNil(t, resp.ReserveParams.OfferLimit)
	assert.Equal(t, int64(100), *resp.ReserveParams.OfferLimit)
}

func TestAPI_ReserveCheckUnknownOffer(t *testing.T) {
	f := newFixture(t)
	f.seedMember(t, "m-1", 0)

	rec := f.do(t, http.MethodGet, "/api/offers/nope/reserve-check", "m-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "not_found", resp.Error)
}

// =============================================================================
// CREATE
// =============================================================================

func TestAPI_CreateReservation(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 1)

	rec := f.do(t, http.MethodPost, "/api/offers/offer-1/reserves", "m-1",
		api.CreateReservationRequest{Amount: str("60")})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var resp api.CreateReservationResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.AllocationReserveID)
	assert.Equal(t, "offer-1", resp.Data.OfferID)
	assert.Contains(t, resp.Message, "Acme Ltd")

	require.NotNil(t, resp.Data.Reserved)
	require.NotNil(t, resp.Data.ReserveLimits)
	assert.Equal(t, int64(100), *resp.Data.Reserved)
	assert.Equal(t, int64(94), *resp.Data.ReserveLimits)
}

func TestAPI_CreateReservation_MissingAmount(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)

	rec := f.do(t, http.MethodPost, "/api/offers/offer-1/reserves", "m-1",
		api.CreateReservationRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid_amount", resp.Error)
	assert.Equal(t, "Required parameter amount not sent", resp.Message)
}

func TestAPI_CreateReservation_NegativeAmount(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)

	rec := f.do(t, http.MethodPost, "/api/offers/offer-1/reserves", "m-1",
		api.CreateReservationRequest{Amount: str("-10")})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "bad_request", resp.Error)
	assert.Equal(t, "Amount cannot be negative number", resp.Message)
}

func TestAPI_CreateReservation_BelowMinimumParcel(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)

	rec := f.do(t, http.MethodPost, "/api/offers/offer-1/reserves", "m-1",
		api.CreateReservationRequest{Amount: str("40")})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "calculation_error", resp.Error)
	assert.Equal(t, "The Minimum Investment Amount is $ 50", resp.Message)
}

func TestAPI_CreateReservation_MalformedBody(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)

	req := httptest.NewRequest(http.MethodPost, "/api/offers/offer-1/reserves",
		bytes.NewBufferString("{not json"))
	req.Header.Set("X-Member-ID", "m-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// GET
// =============================================================================

func TestAPI_GetReservation(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)
	id := f.createReserve(t, "m-1", "offer-1", "60")

	rec := f.do(t, http.MethodGet, "/api/reserves/"+id, "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.GetReservationResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, id, resp.AllocationReserveID)
	assert.Equal(t, "offer-1", resp.Data.OfferID)
	assert.Equal(t, "60", resp.Data.Amount)
	assert.Equal(t, int64(6), resp.Data.Shares)
	assert.Equal(t, "pending", resp.Data.Status)
	assert.True(t, resp.Data.IsApplicationPossible)
}

func TestAPI_GetReservation_OtherMembersReserveHidden(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)
	f.seedMember(t, "m-2", 0)
	id := f.createReserve(t, "m-1", "offer-1", "60")

	rec := f.do(t, http.MethodGet, "/api/reserves/"+id, "m-2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestAPI_UpdateReservation_Shrink(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)
	id := f.createReserve(t, "m-1", "offer-1", "60")

	rec := f.do(t, http.MethodPut, "/api/reserves/"+id, "m-1",
		api.UpdateReservationRequest{Amount: str("50")})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp api.UpdateReservationResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, id, resp.AllocationReserveID)
}

func TestAPI_UpdateReservation_GrowRejected(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)
	id := f.createReserve(t, "m-1", "offer-1", "60")

	rec := f.do(t, http.MethodPut, "/api/reserves/"+id, "m-1",
		api.UpdateReservationRequest{Amount: str("80")})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "amount_error", resp.Error)
	assert.Equal(t, "Number of shares must be less or equals to 6", resp.Message)
}

// =============================================================================
// DELETE
// =============================================================================

func TestAPI_DeleteReservation_PendingRemoved(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-1", 100, false)
	f.seedMember(t, "m-1", 0)
	id := f.createReserve(t, "m-1", "offer-1", "60")

	rec := f.do(t, http.MethodDelete, "/api/reserves/"+id, "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.DeleteReservationResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.True(t, resp.IsRemoved)

	rec = f.do(t, http.MethodGet, "/api/reserves/"+id, "m-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DeleteReservation_ApprovedRetained(t *testing.T) {
	f := newFixture(t)
	f.seedOffer(t, "offer-auto", 100, true)
	f.seedMember(t, "m-1", 0)
	id := f.createReserve(t, "m-1", "offer-auto", "60")

	rec := f.do(t, http.MethodDelete, "/api/reserves/"+id, "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.DeleteReservationResponse
	decodeBody(t, rec, &resp)
	assert.False(t, resp.IsRemoved)
	assert.Equal(t, "Allocation Reserve status was changed to Failed To Complete", resp.Message)

	rec = f.do(t, http.MethodGet, "/api/reserves/"+id, "m-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view api.GetReservationResponse
	decodeBody(t, rec, &view)
	assert.Equal(t, "failed_to_complete", view.Data.Status)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_SaveOffer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/offers", "", api.SaveOfferRequest{
		ID:                  "offer-1",
		CompanyName:         "Acme Ltd",
		SharePrice:          "2.50",
		MinimumParcelShares: 5,
		SharesOnOffer:       100,
		OpenDate:            "2026-01-01T00:00:00Z",
		CloseDate:           "2026-12-31T00:00:00Z",
		ApplicationID:       "app-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	offer, err := f.store.GetOffer(context.Background(), "offer-1")
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.True(t, decimal.RequireFromString("2.50").Equal(offer.SharePrice))
}

func TestAPI_SaveOffer_Validation(t *testing.T) {
	f := newFixture(t)

	base := api.SaveOfferRequest{
		ID:          "offer-1",
		CompanyName: "Acme Ltd",
		SharePrice:  "2.50",
		OpenDate:    "2026-01-01T00:00:00Z",
		CloseDate:   "2026-12-31T00:00:00Z",
	}

	tests := []struct {
		name   string
		mutate func(*api.SaveOfferRequest)
	}{
		{"zero price", func(r *api.SaveOfferRequest) { r.SharePrice = "0" }},
		{"negative price", func(r *api.SaveOfferRequest) { r.SharePrice = "-1" }},
		{"unparsable price", func(r *api.SaveOfferRequest) { r.SharePrice = "abc" }},
		{"bad open date", func(r *api.SaveOfferRequest) { r.OpenDate = "01/01/2026" }},
		{"bad close date", func(r *api.SaveOfferRequest) { r.CloseDate = "eventually" }},
		{"close before open", func(r *api.SaveOfferRequest) { r.CloseDate = "2025-01-01T00:00:00Z" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			rec := f.do(t, http.MethodPut, "/api/admin/offers", "", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAPI_SaveMember(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/members", "", api.SaveMemberRequest{
		ID: "m-1", Name: "Jess Doe", Email: "jess@example.com", InvestmentProfiles: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	m, err := f.store.GetMember(context.Background(), "m-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.InvestmentProfiles)
}

func TestAPI_SaveMember_RequiresID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/members", "", api.SaveMemberRequest{Name: "No ID"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
