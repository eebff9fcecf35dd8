package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/market"
)

// ListingService defines the methods that the listing handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type ListingService interface {
	CreateListing(ctx context.Context, p market.CreateListingParams) (domain.Listing, error)
	Buy(ctx context.Context, p market.BuyParams) (market.PurchaseResult, error)
	CancelListing(ctx context.Context, caller common.Address, id uint64) (domain.Listing, error)
	CleanupExpired(ctx context.Context, id uint64) (domain.Listing, error)
	GetListing(ctx context.Context, id uint64) (domain.Listing, error)
	ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	ListListingsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves fixed-price listing endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the JSON body of POST /api/listings.
type createListingRequest struct {
	Seller     string     `json:"seller"`
	Collection string     `json:"collection"`
	AssetID    string     `json:"asset_id"`
	Quantity   uint64     `json:"quantity"`
	Standard   string     `json:"standard"`
	Currency   string     `json:"currency"`
	Price      string     `json:"price"`
	StartTime  *time.Time `json:"start_time"`
	EndTime    *time.Time `json:"end_time"`
}

// callerRequest carries just the acting account, used by cancel endpoints.
type callerRequest struct {
	Caller string `json:"caller"`
}

// buyRequest is the JSON body of POST /api/listings/{id}/buy. Attached is
// the native value sent along with the purchase, as a decimal string.
type buyRequest struct {
	Buyer    string `json:"buyer"`
	Attached string `json:"attached"`
}

// purchaseResponse reports the settlement breakdown of a completed purchase.
type purchaseResponse struct {
	Listing    listingView    `json:"listing"`
	Buyer      string         `json:"buyer"`
	Settlement settlementView `json:"settlement"`
	Credits    []creditView   `json:"credits,omitempty"`
}

// listListingsResponse wraps the list endpoint output with pagination echo.
type listListingsResponse struct {
	Listings []listingView `json:"listings"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// ListListings returns active listings, optionally filtered by seller.
// GET /api/listings?seller=0x..&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		listings []domain.Listing
		err      error
	)
	if sellerParam := r.URL.Query().Get("seller"); sellerParam != "" {
		seller, addrErr := parseAddr(sellerParam)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, addrErr.Error())
			return
		}
		listings, err = h.listings.ListListingsBySeller(r.Context(), seller, opts)
	} else {
		listings, err = h.listings.ListActiveListings(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list listings", err)
		return
	}

	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: toListingViews(listings),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single listing by id, active or historical.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingView(listing))
}

// CreateListing escrows the asset and opens a fixed-price listing.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.listings.CreateListing(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, "create listing", err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingView(listing))
}

// Buy settles a listing: currency in, asset out, payouts split.
// POST /api/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	buyer, err := parseAddr(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attached, err := parseAmount(req.Attached)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.listings.Buy(r.Context(), market.BuyParams{
		ListingID: id,
		Buyer:     buyer,
		Attached:  attached,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}

	resp := purchaseResponse{
		Listing:    toListingView(res.Listing),
		Buyer:      res.Buyer.Hex(),
		Settlement: toSettlementView(res.Settlement),
	}
	for _, note := range res.Credits {
		resp.Credits = append(resp.Credits, creditView{
			Currency: note.Currency.Hex(),
			Account:  note.Account.Hex(),
			Amount:   amountString(note.Amount),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelListing deactivates a listing and returns the asset to its seller.
// Only the seller may cancel.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.listings.CancelListing(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingView(listing))
}

// Cleanup deactivates an expired listing and returns the escrowed asset to
// its seller. Callable by anyone since expiry is an objective fact.
// POST /api/listings/{id}/cleanup
func (h *ListingHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.listings.CleanupExpired(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cleanup listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingView(listing))
}

// toParams validates the request body into service-layer parameters.
func (req createListingRequest) toParams() (market.CreateListingParams, error) {
	seller, err := parseAddr(req.Seller)
	if err != nil {
		return market.CreateListingParams{}, err
	}
	collection, err := parseAddr(req.Collection)
	if err != nil {
		return market.CreateListingParams{}, err
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		return market.CreateListingParams{}, err
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		return market.CreateListingParams{}, err
	}

	p := market.CreateListingParams{
		Seller:     seller,
		Collection: collection,
		AssetID:    req.AssetID,
		Quantity:   req.Quantity,
		Standard:   domain.Standard(req.Standard),
		Currency:   currency,
		Price:      price,
	}
	if req.StartTime != nil {
		p.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		p.EndTime = *req.EndTime
	}
	return p, nil
}

// parseCurrency accepts a hex token address or the empty string for native
// value.
func parseCurrency(s string) (common.Address, error) {
	if s == "" {
		return domain.NativeCurrency, nil
	}
	return parseAddr(s)
}
