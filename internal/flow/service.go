package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stagepass/checkout/internal/admission"
	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/inventory"
	"github.com/stagepass/checkout/internal/payment"
	"github.com/stagepass/checkout/internal/reservation"
	"github.com/stagepass/checkout/internal/selection"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
)

// AdmissionDeniedError carries the gate's reason. The caller is sent back to
// the product page; admission is never retried silently.
type AdmissionDeniedError struct {
	Reason string
}

func (e *AdmissionDeniedError) Error() string {
	return "admission denied: " + e.Reason
}

var (
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	ErrReservationFailed    = errors.New("reservation failed")
	ErrPaymentStart         = errors.New("payment start failed")

	ErrWrongStep         = errors.New("operation not valid in the current step")
	ErrEmptySelection    = errors.New("no seats selected")
	ErrSeatNotSelectable = errors.New("seat is not selectable")
	ErrPaymentCompleted  = errors.New("payment already completed")
	ErrPaymentInFlight   = errors.New("a payment attempt is already awaiting its outcome")
	ErrNoFailedPayment   = errors.New("no failed payment to retry")
)

// EnterRequest starts a flow for one buyer on one product.
type EnterRequest struct {
	Buyer       reservation.Buyer
	BuyerEmail  string
	ProductID   int64
	ProductName string
	StageID     int64
}

// Service drives the whole flow: gate, selection, initiator, orchestrator,
// reconciler, with the janitor supervising the admission slot throughout.
type Service struct {
	gate         admission.Gate
	inventory    inventory.Client
	initiator    *reservation.Initiator
	orchestrator *payment.Orchestrator
	reconciler   *Reconciler
	janitor      *Janitor
	manager      *Manager
	bus          events.Publisher

	maxTickets    int
	sweepInterval time.Duration
}

func NewService(
	gate admission.Gate,
	inv inventory.Client,
	initiator *reservation.Initiator,
	orchestrator *payment.Orchestrator,
	reconciler *Reconciler,
	janitor *Janitor,
	manager *Manager,
	bus events.Publisher,
	maxTickets int,
	sweepInterval time.Duration,
) *Service {
	return &Service{
		gate:          gate,
		inventory:     inv,
		initiator:     initiator,
		orchestrator:  orchestrator,
		reconciler:    reconciler,
		janitor:       janitor,
		manager:       manager,
		bus:           bus,
		maxTickets:    maxTickets,
		sweepInterval: sweepInterval,
	}
}

// Enter runs the admission gate and, only after it passes, fetches the seat
// data and creates the flow session. Any gate response other than an
// explicit pass denies entry.
func (s *Service) Enter(ctx context.Context, req EnterRequest) (*View, error) {
	result := s.gate.Check(ctx, req.Buyer.ID, req.ProductID)
	if !result.Passed {
		return nil, &AdmissionDeniedError{Reason: result.Reason}
	}

	reservationSeats, err := s.inventory.ReservationSeats(ctx, req.ProductID)
	if err != nil {
		s.abortEntry(req)
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}

	stageSeats, err := s.inventory.SeatsByStage(ctx, req.StageID)
	if err != nil {
		s.abortEntry(req)
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}

	activeByID := make(map[int64]bool, len(stageSeats))
	for _, seat := range stageSeats {
		if seat.Status == domain.SeatActive {
			activeByID[seat.ID] = true
		}
	}

	selectable := make(map[int64]domain.SelectableSeat)
	for _, seat := range reservationSeats {
		if seat.Status == domain.SeatAvailable && activeByID[seat.SeatID] {
			selectable[seat.SeatID] = seat
		}
	}

	sess := &Session{
		ID:                uuid.NewString(),
		Buyer:             req.Buyer,
		BuyerEmail:        req.BuyerEmail,
		ProductID:         req.ProductID,
		ProductName:       req.ProductName,
		StageID:           req.StageID,
		Step:              StepSelect,
		AdmissionVerified: true,
		Seats:             reservationSeats,
		selectable:        selectable,
		Palette:           selection.NewGradePalette(reservationSeats),
		Selection:         selection.NewSet(s.maxTickets),
	}

	if err := s.manager.Add(sess); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Flow entered",
		"flow_id", sess.ID,
		"buyer_id", req.Buyer.ID,
		"product_id", req.ProductID,
		"selectable_seats", len(selectable),
	)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(s.maxTickets), nil
}

// abortEntry hands the admission slot back when entry fails after the gate
// already passed; no session exists yet for the janitor to guard.
func (s *Service) abortEntry(req EnterRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gate.Release(ctx, req.Buyer.ID, req.ProductID); err != nil {
		logger.Warn("Failed to release admission after aborted entry",
			"error", err,
			"buyer_id", req.Buyer.ID,
			"product_id", req.ProductID,
		)
	}
}

func (s *Service) session(flowID string, buyerID int64) (*Session, error) {
	sess, ok := s.manager.Get(flowID)
	if !ok || sess.Buyer.ID != buyerID {
		return nil, ErrFlowNotFound
	}
	return sess, nil
}

func (s *Service) View(flowID string, buyerID int64) (*View, error) {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(s.maxTickets), nil
}

// ToggleSeat flips one seat in or out of the selection.
func (s *Service) ToggleSeat(ctx context.Context, flowID string, buyerID, seatID int64) (*View, error) {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Step != StepSelect {
		return nil, ErrWrongStep
	}

	seat, ok := sess.selectableSeat(seatID)
	if !ok {
		return nil, ErrSeatNotSelectable
	}

	if err := sess.Selection.Toggle(seat); err != nil {
		return nil, err
	}

	return sess.snapshotLocked(s.maxTickets), nil
}

// Reserve turns the selection into reservation records, one request per
// seat, aborting on the first failure. Reservations created before the
// failure stay on the session: they exist server-side and the buyer gets to
// see them either way.
func (s *Service) Reserve(ctx context.Context, flowID string, buyerID int64) (*View, error) {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Step != StepSelect {
		return nil, ErrWrongStep
	}
	if sess.Selection.Size() == 0 {
		return nil, ErrEmptySelection
	}

	created, err := s.initiator.Reserve(ctx, sess.Buyer, sess.ProductID, sess.Selection.Seats())
	sess.Reservations = append(sess.Reservations, created...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}

	sess.Step = StepPayment
	logger.InfoContext(ctx, "Reservations created",
		"flow_id", sess.ID,
		"count", len(created),
	)

	return sess.snapshotLocked(s.maxTickets), nil
}

// StartPayment creates a payment order for the accumulated reservations and
// returns the checkout URL for the UI to open in a popup.
func (s *Service) StartPayment(ctx context.Context, flowID string, buyerID int64) (*View, error) {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return nil, err
	}
	return s.startOrder(ctx, sess, false)
}

// RetryPayment re-invokes the orchestrator over the same reservation set
// after a failed or canceled attempt. A new order is created; the
// reservations are not.
func (s *Service) RetryPayment(ctx context.Context, flowID string, buyerID int64) (*View, error) {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return nil, err
	}
	return s.startOrder(ctx, sess, true)
}

func (s *Service) startOrder(ctx context.Context, sess *Session, retry bool) (*View, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Step != StepPayment {
		return nil, ErrWrongStep
	}
	if sess.PaymentCompleted {
		return nil, ErrPaymentCompleted
	}
	if sess.AwaitingOutcome {
		return nil, ErrPaymentInFlight
	}
	if retry && sess.LastFailure == nil {
		return nil, ErrNoFailedPayment
	}

	orderName := fmt.Sprintf("%s - %d seat(s)", sess.ProductName, len(sess.Reservations))

	order, err := s.orchestrator.Start(ctx, sess.ID, sess.Buyer.ID, sess.ProductID, orderName, sess.Reservations,
		func(outcomeCtx context.Context, outcome domain.PaymentOutcome) {
			s.reconciler.Resolve(outcomeCtx, sess, outcome)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentStart, err)
	}

	sess.Order = order
	sess.AwaitingOutcome = true

	return sess.snapshotLocked(s.maxTickets), nil
}

// Teardown is the unload beacon path: release the slot (unless payment
// completed) and drop the session.
func (s *Service) Teardown(ctx context.Context, flowID string, buyerID int64) error {
	sess, err := s.session(flowID, buyerID)
	if err != nil {
		return err
	}

	s.janitor.Release(sess, "beacon")
	s.manager.Remove(flowID)
	return nil
}

// Sweep expires abandoned flows through the janitor.
func (s *Service) Sweep(now time.Time) {
	for _, sess := range s.manager.Expired(now) {
		s.janitor.Release(sess, "sweep")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.bus.Publish(ctx, events.FlowExpired, events.FlowExpiredEvent{
			FlowID:    sess.ID,
			BuyerID:   sess.Buyer.ID,
			ProductID: sess.ProductID,
			ExpiredAt: now,
		}); err != nil {
			logger.Error("Failed to publish flow expired event", "error", err, "flow_id", sess.ID)
		}
		cancel()
	}
}

// Run drives the expiry sweep until the context is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
