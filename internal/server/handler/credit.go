package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// CreditService defines the methods that the credit handler requires from
// the service layer.
type CreditService interface {
	Withdraw(ctx context.Context, caller, currency common.Address) (*big.Int, error)
	CreditOf(currency, account common.Address) *big.Int
	Credits() []domain.CreditEntry
}

// CreditHandler serves the pull-payment credit ledger endpoints.
type CreditHandler struct {
	credits CreditService
	logger  *slog.Logger
}

// NewCreditHandler creates a CreditHandler with the given service and logger.
func NewCreditHandler(credits CreditService, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		credits: credits,
		logger:  logger,
	}
}

// withdrawRequest is the JSON body of POST /api/credits/withdraw. Currency
// may be empty for native value.
type withdrawRequest struct {
	Caller   string `json:"caller"`
	Currency string `json:"currency"`
}

// withdrawResponse reports the amount paid out by a withdrawal.
type withdrawResponse struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// ListCredits returns every pending credit balance.
// GET /api/credits
func (h *CreditHandler) ListCredits(w http.ResponseWriter, r *http.Request) {
	entries := h.credits.Credits()
	views := make([]creditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toCreditView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": views})
}

// GetCredit returns the pending balance for one (currency, account) pair.
// The currency segment accepts "native" as an alias for the zero address.
// GET /api/credits/{currency}/{account}
func (h *CreditHandler) GetCredit(w http.ResponseWriter, r *http.Request) {
	currencyParam := pathParam(r, "currency")
	if currencyParam == "native" {
		currencyParam = ""
	}
	currency, err := parseCurrency(currencyParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddr(pathParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, creditView{
		Currency: currency.Hex(),
		Account:  account.Hex(),
		Amount:   h.credits.CreditOf(currency, account).String(),
	})
}

// Withdraw pays out the caller's full pending balance in one currency. The
// balance is zeroed before the payment and restored if the payment fails.
// POST /api/credits/withdraw
func (h *CreditHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.credits.Withdraw(r.Context(), caller, currency)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		Account:  caller.Hex(),
		Currency: currency.Hex(),
		Amount:   amount.String(),
	})
}
