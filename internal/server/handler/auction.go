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

// AuctionService defines the methods that the auction handler requires from
// the service layer.
type AuctionService interface {
	CreateAuction(ctx context.Context, p market.CreateAuctionParams) (domain.Auction, error)
	Bid(ctx context.Context, p market.BidParams) (market.BidResult, error)
	FinalizeAuction(ctx context.Context, id uint64) (market.FinalizeResult, error)
	CancelAuction(ctx context.Context, caller common.Address, id uint64) (domain.Auction, error)
	GetAuction(ctx context.Context, id uint64) (domain.Auction, error)
	ListOpenAuctions(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error)
	ListAuctionsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error)
}

// AuctionHandler serves timed-auction endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logger,
	}
}

// createAuctionRequest is the JSON body of POST /api/auctions.
type createAuctionRequest struct {
	Seller       string     `json:"seller"`
	Collection   string     `json:"collection"`
	AssetID      string     `json:"asset_id"`
	Quantity     uint64     `json:"quantity"`
	Standard     string     `json:"standard"`
	Currency     string     `json:"currency"`
	StartPrice   string     `json:"start_price"`
	MinIncrement string     `json:"min_increment"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
}

// bidRequest is the JSON body of POST /api/auctions/{id}/bids. Amount is the
// token bid; Attached is the native value sent with a native-currency bid.
type bidRequest struct {
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	Attached string `json:"attached"`
}

// bidResponse reports the auction state after a bid.
type bidResponse struct {
	Auction   auctionView `json:"auction"`
	Displaced *creditView `json:"displaced,omitempty"`
	Extended  bool        `json:"extended"`
}

// finalizeResponse reports the terminal outcome of an auction.
type finalizeResponse struct {
	Auction    auctionView     `json:"auction"`
	Winner     string          `json:"winner,omitempty"`
	NoBids     bool            `json:"no_bids"`
	Settlement *settlementView `json:"settlement,omitempty"`
	Credits    []creditView    `json:"credits,omitempty"`
}

// listAuctionsResponse wraps the list endpoint output with pagination echo.
type listAuctionsResponse struct {
	Auctions []auctionView `json:"auctions"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// ListAuctions returns open auctions, optionally filtered by seller.
// GET /api/auctions?seller=0x..&limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		auctions []domain.Auction
		err      error
	)
	if sellerParam := r.URL.Query().Get("seller"); sellerParam != "" {
		seller, addrErr := parseAddr(sellerParam)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, addrErr.Error())
			return
		}
		auctions, err = h.auctions.ListAuctionsBySeller(r.Context(), seller, opts)
	} else {
		auctions, err = h.auctions.ListOpenAuctions(r.Context(), opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}

	writeJSON(w, http.StatusOK, listAuctionsResponse{
		Auctions: toAuctionViews(auctions),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetAuction returns a single auction by id, open or settled.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	auction, err := h.auctions.GetAuction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionView(auction))
}

// CreateAuction escrows the asset and opens a timed ascending auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := req.toParams()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	auction, err := h.auctions.CreateAuction(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuctionView(auction))
}

// Bid places a bid, refunding or crediting the displaced bidder.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bidder, err := parseAddr(req.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	attached, err := parseAmount(req.Attached)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.auctions.Bid(r.Context(), market.BidParams{
		AuctionID: id,
		Bidder:    bidder,
		Amount:    amount,
		Attached:  attached,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "bid", err)
		return
	}

	resp := bidResponse{
		Auction:  toAuctionView(res.Auction),
		Extended: res.Extended,
	}
	if res.Displaced != nil {
		resp.Displaced = &creditView{
			Currency: res.Displaced.Currency.Hex(),
			Account:  res.Displaced.Account.Hex(),
			Amount:   amountString(res.Displaced.Amount),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Finalize settles an ended auction: asset to the winner and payouts split,
// or asset back to the seller when no bids were placed. Callable by anyone.
// POST /api/auctions/{id}/finalize
func (h *AuctionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.auctions.FinalizeAuction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize auction", err)
		return
	}

	resp := finalizeResponse{
		Auction: toAuctionView(res.Auction),
		NoBids:  res.NoBids,
	}
	var zero common.Address
	if res.Winner != zero {
		resp.Winner = res.Winner.Hex()
	}
	if !res.NoBids {
		sv := toSettlementView(res.Settlement)
		resp.Settlement = &sv
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

// CancelAuction closes a bidless auction and returns the asset to its seller.
// Only the seller may cancel, and only before any bid lands.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
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

	auction, err := h.auctions.CancelAuction(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuctionView(auction))
}

// toParams validates the request body into service-layer parameters.
func (req createAuctionRequest) toParams() (market.CreateAuctionParams, error) {
	seller, err := parseAddr(req.Seller)
	if err != nil {
		return market.CreateAuctionParams{}, err
	}
	collection, err := parseAddr(req.Collection)
	if err != nil {
		return market.CreateAuctionParams{}, err
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		return market.CreateAuctionParams{}, err
	}
	startPrice, err := parseAmount(req.StartPrice)
	if err != nil {
		return market.CreateAuctionParams{}, err
	}
	minIncrement, err := parseAmount(req.MinIncrement)
	if err != nil {
		return market.CreateAuctionParams{}, err
	}

	p := market.CreateAuctionParams{
		Seller:       seller,
		Collection:   collection,
		AssetID:      req.AssetID,
		Quantity:     req.Quantity,
		Standard:     domain.Standard(req.Standard),
		Currency:     currency,
		StartPrice:   startPrice,
		MinIncrement: minIncrement,
		EndTime:      req.EndTime,
	}
	if req.StartTime != nil {
		p.StartTime = *req.StartTime
	}
	return p, nil
}
