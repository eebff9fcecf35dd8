package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

var (
	hSeller = common.HexToAddress("0x1000000000000000000000000000000000000001")
	hBuyer  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	hColl   = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

// fakeListingService records the last call and returns canned results.
type fakeListingService struct {
	listing domain.Listing
	result  market.PurchaseResult
	err     error

	createdWith market.CreateListingParams
	boughtWith  market.BuyParams
}

func (f *fakeListingService) CreateListing(_ context.Context, p market.CreateListingParams) (domain.Listing, error) {
	f.createdWith = p
	return f.listing, f.err
}

func (f *fakeListingService) Buy(_ context.Context, p market.BuyParams) (market.PurchaseResult, error) {
	f.boughtWith = p
	return f.result, f.err
}

func (f *fakeListingService) CancelListing(context.Context, common.Address, uint64) (domain.Listing, error) {
	return f.listing, f.err
}

func (f *fakeListingService) CleanupExpired(context.Context, uint64) (domain.Listing, error) {
	return f.listing, f.err
}

func (f *fakeListingService) GetListing(context.Context, uint64) (domain.Listing, error) {
	return f.listing, f.err
}

func (f *fakeListingService) ListActiveListings(context.Context, domain.ListOpts) ([]domain.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Listing{f.listing}, nil
}

func (f *fakeListingService) ListListingsBySeller(context.Context, common.Address, domain.ListOpts) ([]domain.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Listing{f.listing}, nil
}

func sampleListing() domain.Listing {
	return domain.Listing{
		ID:         7,
		Seller:     hSeller,
		Collection: hColl,
		AssetID:    "42",
		Quantity:   1,
		Standard:   domain.StandardSingle,
		Currency:   domain.NativeCurrency,
		Price:      big.NewInt(5000),
		StartTime:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
		CreatedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGetListingRendersStringAmounts(t *testing.T) {
	svc := &fakeListingService{listing: sampleListing()}
	h := NewListingHandler(svc, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/listings/7", nil)
	r.SetPathValue("id", "7")
	w := httptest.NewRecorder()
	h.GetListing(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var got listingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got.ID)
	assert.Equal(t, "5000", got.Price)
	assert.Equal(t, hSeller.Hex(), got.Seller)
	assert.Nil(t, got.EndTime)
}

func TestGetListingBadID(t *testing.T) {
	h := NewListingHandler(&fakeListingService{}, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/listings/abc", nil)
	r.SetPathValue("id", "abc")
	w := httptest.NewRecorder()
	h.GetListing(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateListingParsesBody(t *testing.T) {
	svc := &fakeListingService{listing: sampleListing()}
	h := NewListingHandler(svc, testLogger())

	body := `{
		"seller": "` + hSeller.Hex() + `",
		"collection": "` + hColl.Hex() + `",
		"asset_id": "42",
		"quantity": 1,
		"standard": "single",
		"price": "5000"
	}`
	r := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateListing(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, hSeller, svc.createdWith.Seller)
	assert.Equal(t, domain.StandardSingle, svc.createdWith.Standard)
	assert.Equal(t, domain.NativeCurrency, svc.createdWith.Currency)
	require.NotNil(t, svc.createdWith.Price)
	assert.Equal(t, "5000", svc.createdWith.Price.String())
}

func TestCreateListingRejectsBadAddress(t *testing.T) {
	h := NewListingHandler(&fakeListingService{}, testLogger())

	r := httptest.NewRequest(http.MethodPost, "/api/listings",
		strings.NewReader(`{"seller":"not-an-address"}`))
	w := httptest.NewRecorder()
	h.CreateListing(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuyMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInactive, http.StatusConflict},
		{domain.ErrPriceMismatch, http.StatusBadRequest},
		{domain.ErrPaused, http.StatusServiceUnavailable},
		{domain.ErrTransferFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		svc := &fakeListingService{err: tt.err}
		h := NewListingHandler(svc, testLogger())

		body := `{"buyer": "` + hBuyer.Hex() + `", "attached": "5000"}`
		r := httptest.NewRequest(http.MethodPost, "/api/listings/7/buy", strings.NewReader(body))
		r.SetPathValue("id", "7")
		w := httptest.NewRecorder()
		h.Buy(w, r)

		assert.Equal(t, tt.want, w.Code, "error %v", tt.err)
	}
}

func TestBuyReturnsSettlement(t *testing.T) {
	l := sampleListing()
	l.Active = false
	svc := &fakeListingService{
		result: market.PurchaseResult{
			Listing: l,
			Buyer:   hBuyer,
			Settlement: domain.Settlement{
				Price:          big.NewInt(5000),
				FeeAmount:      big.NewInt(125),
				ProtocolShare:  big.NewInt(107),
				DistributorShare: big.NewInt(18),
				SellerProceeds: big.NewInt(4875),
			},
		},
	}
	h := NewListingHandler(svc, testLogger())

	body := `{"buyer": "` + hBuyer.Hex() + `", "attached": "5000"}`
	r := httptest.NewRequest(http.MethodPost, "/api/listings/7/buy", strings.NewReader(body))
	r.SetPathValue("id", "7")
	w := httptest.NewRecorder()
	h.Buy(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var got purchaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, hBuyer.Hex(), got.Buyer)
	assert.Equal(t, "5000", got.Settlement.Price)
	assert.Equal(t, "4875", got.Settlement.SellerProceeds)
	assert.False(t, got.Listing.Active)
}

func TestListListingsRejectsBadSellerFilter(t *testing.T) {
	h := NewListingHandler(&fakeListingService{listing: sampleListing()}, testLogger())

	r := httptest.NewRequest(http.MethodGet, "/api/listings?seller=zzz", nil)
	w := httptest.NewRecorder()
	h.ListListings(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
