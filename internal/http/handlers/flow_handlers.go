package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stagepass/checkout/internal/flow"
	"github.com/stagepass/checkout/internal/http/response"
	"github.com/stagepass/checkout/internal/selection"
	"github.com/stagepass/checkout/pkg/logger"
)

type enterFlowRequest struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	StageID     int64  `json:"stage_id"`
}

// EnterFlow runs the admission gate and opens a flow session. A denied gate
// sends the buyer straight back to the product page; nothing is fetched.
func (h *Handlers) EnterFlow(w http.ResponseWriter, r *http.Request) {
	buyer, email, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req enterFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.ProductID <= 0 || req.StageID <= 0 {
		response.BadRequest(w, "product_id and stage_id are required")
		return
	}

	view, err := h.svc.Enter(r.Context(), flow.EnterRequest{
		Buyer:       buyer,
		BuyerEmail:  email,
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		StageID:     req.StageID,
	})
	if err != nil {
		h.writeFlowServiceError(w, r, err, req.ProductID)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.svc.View(chi.URLParam(r, "flowID"), buyer.ID)
	if err != nil {
		h.writeFlowServiceError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) ToggleSeat(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	seatID, err := strconv.ParseInt(chi.URLParam(r, "seatID"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid seat id")
		return
	}

	view, err := h.svc.ToggleSeat(r.Context(), chi.URLParam(r, "flowID"), buyer.ID, seatID)
	if err != nil {
		h.writeFlowServiceError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) CreateReservations(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.svc.Reserve(r.Context(), chi.URLParam(r, "flowID"), buyer.ID)
	if err != nil {
		h.writeFlowServiceError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *Handlers) StartPayment(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.svc.StartPayment(r.Context(), chi.URLParam(r, "flowID"), buyer.ID)
	if err != nil {
		h.writeFlowServiceError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

func (h *Handlers) RetryPayment(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.svc.RetryPayment(r.Context(), chi.URLParam(r, "flowID"), buyer.ID)
	if err != nil {
		h.writeFlowServiceError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// TeardownFlow is the unload beacon target. It always answers 204 quickly;
// the release itself runs detached so the dying tab does not have to wait.
func (h *Handlers) TeardownFlow(w http.ResponseWriter, r *http.Request) {
	buyer, _, ok := buyerFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	if err := h.svc.Teardown(r.Context(), chi.URLParam(r, "flowID"), buyer.ID); err != nil {
		if errors.Is(err, flow.ErrFlowNotFound) {
			// Already gone; the beacon may fire more than once.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		response.InternalError(w, "Failed to tear down flow")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeFlowServiceError(w http.ResponseWriter, r *http.Request, err error, productID int64) {
	var denied *flow.AdmissionDeniedError

	switch {
	case errors.As(err, &denied):
		logger.InfoContext(r.Context(), "Admission denied", "reason", denied.Reason)
		response.WriteFlowError(w, http.StatusForbidden,
			"You are not admitted to this sale yet",
			response.CodeAdmissionDenied,
			response.ActionReturnToProduct,
			productRedirect(productID),
		)

	case errors.Is(err, flow.ErrFlowNotFound):
		response.NotFound(w, "Flow not found")

	case errors.Is(err, flow.ErrFlowActive):
		response.Conflict(w, "An active flow already exists for this product")

	case errors.Is(err, flow.ErrWrongStep):
		response.Conflict(w, "Operation not valid in the current step")

	case errors.Is(err, selection.ErrSelectionFull):
		response.WriteError(w, http.StatusConflict,
			fmt.Sprintf("You can select up to %d seats", h.config.Flow.MaxTicketsPerPerson),
			response.CodeSelectionFull,
		)

	case errors.Is(err, flow.ErrSeatNotSelectable):
		response.Conflict(w, "Seat is not selectable")

	case errors.Is(err, flow.ErrEmptySelection):
		response.BadRequest(w, "Select at least one seat first")

	case errors.Is(err, flow.ErrPaymentCompleted):
		response.Conflict(w, "Payment already completed")

	case errors.Is(err, flow.ErrPaymentInFlight):
		response.Conflict(w, "A payment attempt is already in progress")

	case errors.Is(err, flow.ErrNoFailedPayment):
		response.Conflict(w, "No failed payment to retry")

	case errors.Is(err, flow.ErrInventoryUnavailable):
		logger.ErrorContext(r.Context(), "Inventory fetch failed", "error", err)
		response.WriteFlowError(w, http.StatusBadGateway,
			"Seat information is unavailable right now",
			response.CodeInventoryError,
			response.ActionReturnToProduct,
			productRedirect(productID),
		)

	case errors.Is(err, flow.ErrReservationFailed):
		logger.ErrorContext(r.Context(), "Reservation batch failed", "error", err)
		response.WriteFlowError(w, http.StatusBadGateway,
			err.Error(),
			response.CodeReservationError,
			response.ActionReturnToProduct,
			"",
		)

	case errors.Is(err, flow.ErrPaymentStart):
		logger.ErrorContext(r.Context(), "Payment creation failed", "error", err)
		response.WriteFlowError(w, http.StatusBadGateway,
			"Could not start the payment, please try again",
			response.CodePaymentError,
			response.ActionRetryPayment,
			"",
		)

	default:
		logger.ErrorContext(r.Context(), "Flow operation failed", "error", err)
		response.InternalError(w, "Something went wrong")
	}
}

func productRedirect(productID int64) string {
	if productID <= 0 {
		return ""
	}
	return "/products/" + strconv.FormatInt(productID, 10)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
