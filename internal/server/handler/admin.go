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

// AdminService defines the methods that the admin handler requires from the
// service layer. Authorization happens inside the service against the
// on-chain access registry; the handler only parses and relays the caller.
type AdminService interface {
	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
	Paused() bool
	SetFees(ctx context.Context, caller common.Address, cfg market.FeeConfig) error
	Fees() market.FeeConfig
	SetCurrencyAllowed(ctx context.Context, caller, currency common.Address, allowed bool) error
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves administrative endpoints: pause switch, fee schedule,
// currency allow-list, and the audit log.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// feesView is the JSON shape of the fee schedule.
type feesView struct {
	FeeBps              int64  `json:"fee_bps"`
	DistributorShareBps int64  `json:"distributor_share_bps"`
	ProtocolAccount     string `json:"protocol_account"`
	DistributorAccount  string `json:"distributor_account"`
}

// setFeesRequest is the JSON body of PUT /api/admin/fees.
type setFeesRequest struct {
	Caller              string `json:"caller"`
	FeeBps              int64  `json:"fee_bps"`
	DistributorShareBps int64  `json:"distributor_share_bps"`
	ProtocolAccount     string `json:"protocol_account"`
	DistributorAccount  string `json:"distributor_account"`
}

// setCurrencyRequest is the JSON body of PUT /api/admin/currencies.
type setCurrencyRequest struct {
	Caller   string `json:"caller"`
	Currency string `json:"currency"`
	Allowed  bool   `json:"allowed"`
}

// auditView is the JSON shape of one audit log row.
type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Status reports the pause switch and current fee schedule.
// GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	fees := h.admin.Fees()
	writeJSON(w, http.StatusOK, map[string]any{
		"paused": h.admin.Paused(),
		"fees":   toFeesView(fees),
	})
}

// Pause halts every state-changing marketplace operation.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.parseCaller(w, r)
	if !ok {
		return
	}
	if err := h.admin.Pause(r.Context(), caller); err != nil {
		writeServiceError(w, r, h.logger, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Unpause lifts the pause switch.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.parseCaller(w, r)
	if !ok {
		return
	}
	if err := h.admin.Unpause(r.Context(), caller); err != nil {
		writeServiceError(w, r, h.logger, "unpause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// GetFees returns the current fee schedule.
// GET /api/admin/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toFeesView(h.admin.Fees()))
}

// SetFees replaces the fee schedule. Requires config-admin rights.
// PUT /api/admin/fees
func (h *AdminHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req setFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	protocol, err := parseAddr(req.ProtocolAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	distributor, err := parseAddr(req.DistributorAccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := market.FeeConfig{
		FeeBps:              req.FeeBps,
		DistributorShareBps: req.DistributorShareBps,
		ProtocolAccount:     protocol,
		DistributorAccount:  distributor,
	}
	if err := h.admin.SetFees(r.Context(), caller, cfg); err != nil {
		writeServiceError(w, r, h.logger, "set fees", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeesView(h.admin.Fees()))
}

// SetCurrency flips a token's allow-list membership. Requires config-admin
// rights.
// PUT /api/admin/currencies
func (h *AdminHandler) SetCurrency(w http.ResponseWriter, r *http.Request) {
	var req setCurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	currency, err := parseAddr(req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.SetCurrencyAllowed(r.Context(), caller, currency, req.Allowed); err != nil {
		writeServiceError(w, r, h.logger, "set currency", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": currency.Hex(),
		"allowed":  req.Allowed,
	})
}

// ListAudit returns the administrative audit log, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	entries, err := h.admin.ListAudit(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}

	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *AdminHandler) parseCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return common.Address{}, false
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, false
	}
	return caller, true
}

func toFeesView(cfg market.FeeConfig) feesView {
	return feesView{
		FeeBps:              cfg.FeeBps,
		DistributorShareBps: cfg.DistributorShareBps,
		ProtocolAccount:     cfg.ProtocolAccount.Hex(),
		DistributorAccount:  cfg.DistributorAccount.Hex(),
	}
}
