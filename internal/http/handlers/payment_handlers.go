package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/http/response"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
)

// PaymentOutcome is the checkout popup's callback. The message is validated
// for shape and order before being relayed on the order's outcome subject;
// the orchestrator side validates again and resolves exactly one outcome
// per order, so a duplicate or late callback is harmless.
func (h *Handlers) PaymentOutcome(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var outcome domain.PaymentOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		response.BadRequest(w, "Invalid outcome body")
		return
	}

	if _, ok := domain.ParseOutcomeType(string(outcome.Type)); !ok {
		response.BadRequest(w, "Unknown outcome type")
		return
	}
	if outcome.OrderID != "" && outcome.OrderID != orderID {
		response.BadRequest(w, "Order mismatch")
		return
	}
	outcome.OrderID = orderID

	if outcome.Type == domain.OutcomeSuccess && outcome.PaymentKey == "" {
		response.BadRequest(w, "Success outcome requires a payment key")
		return
	}

	if err := h.bus.Publish(r.Context(), events.PaymentOutcomeSubject(orderID), outcome); err != nil {
		logger.ErrorContext(r.Context(), "Failed to relay payment outcome", "error", err, "order_id", orderID)
		response.InternalError(w, "Failed to relay outcome")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// PaymentHeartbeat keeps the popup's liveness key fresh. When the pings stop
// and no outcome ever arrives, the orchestrator reads that as the popup
// being closed and synthesizes a cancel.
func (h *Handlers) PaymentHeartbeat(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	if err := h.monitor.Touch(r.Context(), orderID); err != nil {
		logger.WarnContext(r.Context(), "Failed to record popup heartbeat", "error", err, "order_id", orderID)
		response.InternalError(w, "Failed to record heartbeat")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
