package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/service"
)

// EventService defines the methods that the event handler requires from the
// service layer.
type EventService interface {
	ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.MarketEvent, error)
	ListEventsByAsset(ctx context.Context, collection common.Address, assetID string, opts domain.ListOpts) ([]domain.MarketEvent, error)
}

// EventHandler serves the marketplace event history.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// listEventsResponse wraps the list endpoint output with pagination echo.
type listEventsResponse struct {
	Events []service.EventWire `json:"events"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListEvents returns marketplace events, newest first.
// GET /api/events?limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	events, err := h.events.ListEvents(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}

	h.writeList(w, events, opts)
}

// ListEventsByAsset returns the event history of one asset, newest first.
// GET /api/events/{collection}/{asset_id}?limit=50&offset=0
func (h *EventHandler) ListEventsByAsset(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddr(pathParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetID := pathParam(r, "asset_id")
	if assetID == "" {
		writeError(w, http.StatusBadRequest, "missing asset id")
		return
	}
	opts := parseListOpts(r)

	events, err := h.events.ListEventsByAsset(r.Context(), collection, assetID, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list asset events", err)
		return
	}

	h.writeList(w, events, opts)
}

func (h *EventHandler) writeList(w http.ResponseWriter, events []domain.MarketEvent, opts domain.ListOpts) {
	wires := make([]service.EventWire, 0, len(events))
	for _, evt := range events {
		wires = append(wires, service.ToWire(evt))
	}
	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: wires,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}
