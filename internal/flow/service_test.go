package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/flow"
	"github.com/stagepass/checkout/internal/mailer"
	"github.com/stagepass/checkout/internal/payment"
	"github.com/stagepass/checkout/internal/reservation"
	"github.com/stagepass/checkout/internal/selection"
	"github.com/stagepass/checkout/pkg/events"
)

// ---------- Mocks ----------

type memoryBus struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

type memorySub struct {
	bus     *memoryBus
	subject string
	handler func(msg *events.Message)
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: make(map[string][]*memorySub)}
}

func (b *memoryBus) Publish(_ context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	subs := append([]*memorySub(nil), b.subs[subject]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.handler(&events.Message{Subject: subject, Data: payload, Timestamp: time.Now()})
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler func(msg *events.Message)) (events.Subscription, error) {
	sub := &memorySub{bus: b, subject: subject, handler: handler}
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *memoryBus) Close() error { return nil }

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, cand := range subs {
		if cand == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

type mockInventory struct {
	mu               sync.Mutex
	stageSeats       []domain.Seat
	reservationSeats []domain.SelectableSeat
	fail             bool
	calls            int
}

func (m *mockInventory) SeatsByStage(_ context.Context, _ int64) ([]domain.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return nil, errors.New("inventory down")
	}
	return m.stageSeats, nil
}

func (m *mockInventory) ReservationSeats(_ context.Context, _ int64) ([]domain.SelectableSeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return nil, errors.New("inventory down")
	}
	return m.reservationSeats, nil
}

func (m *mockInventory) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockResClient struct {
	mu     sync.Mutex
	nextID int64
	calls  []reservation.CreateRequest
	failOn int
}

func (m *mockResClient) Create(_ context.Context, req reservation.CreateRequest) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.failOn > 0 && len(m.calls) == m.failOn {
		return nil, errors.New("seat " + req.SeatNumber + ": already preempted")
	}
	m.nextID++
	return &domain.Reservation{
		ID:           m.nextID + 100,
		ReserverID:   req.ReserverID,
		ReserverName: req.ReserverName,
		ProductID:    req.ProductID,
		SeatID:       req.SeatID,
		SeatNumber:   req.SeatNumber,
		Price:        req.Price,
		Status:       domain.ReservationPendingPayment,
	}, nil
}

func (m *mockResClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockProvider struct {
	mu         sync.Mutex
	orders     []*domain.PaymentOrder
	confirmErr error
	confirmed  []int64 // amounts confirmed
	failures   []string
}

func (p *mockProvider) CreateOrder(_ context.Context, order *domain.PaymentOrder) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *order
	p.orders = append(p.orders, &copied)
	return "https://pay.example/c/" + order.OrderID, nil
}

func (p *mockProvider) Confirm(_ context.Context, _, _ string, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return p.confirmErr
	}
	p.confirmed = append(p.confirmed, amount)
	return nil
}

func (p *mockProvider) LogFailure(_ context.Context, code, _, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, code)
	return nil
}

func (p *mockProvider) orderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

type mockMonitor struct {
	mu    sync.Mutex
	alive bool
}

func (m *mockMonitor) Touch(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = true
	return nil
}

func (m *mockMonitor) Alive(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive, nil
}

func (m *mockMonitor) Clear(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = false
	return nil
}

type mockAudit struct {
	mu       sync.Mutex
	orders   []string
	outcomes []domain.PaymentOutcome
}

func (a *mockAudit) RecordOrder(_ context.Context, _ string, _, _ int64, order *domain.PaymentOrder) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, order.OrderID)
	return nil
}

func (a *mockAudit) RecordOutcome(_ context.Context, _ string, outcome domain.PaymentOutcome, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome)
	return nil
}

type mockMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockMailer) SendPaymentConfirmation(toEmail, _, _ string, _ int64, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, toEmail)
	return nil
}

var _ mailer.Service = (*mockMailer)(nil)

// ---------- Harness ----------

type harness struct {
	gate     *countingGate
	inv      *mockInventory
	resv     *mockResClient
	provider *mockProvider
	monitor  *mockMonitor
	audit    *mockAudit
	bus      *memoryBus
	mail     *mockMailer
	svc      *flow.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		gate: newCountingGate(domain.AdmissionPass()),
		inv: &mockInventory{
			stageSeats: []domain.Seat{
				{ID: 11, SeatNumber: "A1", Status: domain.SeatActive, Row: 1, Col: 1},
				{ID: 12, SeatNumber: "A2", Status: domain.SeatActive, Row: 1, Col: 2},
				{ID: 13, SeatNumber: "A3", Status: domain.SeatActive, Row: 1, Col: 3},
				{ID: 14, SeatNumber: "A4", Status: domain.SeatInactive, Row: 1, Col: 4},
				{ID: 15, SeatNumber: "A5", Status: domain.SeatActive, Row: 1, Col: 5},
			},
			reservationSeats: []domain.SelectableSeat{
				{SeatID: 11, SeatNumber: "A1", Grade: "R", Price: 50000, Status: domain.SeatAvailable},
				{SeatID: 12, SeatNumber: "A2", Grade: "VIP", Price: 70000, Status: domain.SeatAvailable},
				{SeatID: 13, SeatNumber: "A3", Grade: "R", Price: 50000, Status: domain.SeatReserved},
				{SeatID: 14, SeatNumber: "A4", Grade: "S", Price: 60000, Status: domain.SeatAvailable},
				{SeatID: 15, SeatNumber: "A5", Grade: "S", Price: 60000, Status: domain.SeatAvailable},
			},
		},
		resv:     &mockResClient{},
		provider: &mockProvider{},
		monitor:  &mockMonitor{alive: true},
		audit:    &mockAudit{},
		bus:      newMemoryBus(),
		mail:     &mockMailer{},
	}

	orchestrator := payment.NewOrchestrator(h.provider, h.bus, h.monitor, h.audit,
		80*time.Millisecond, 10*time.Millisecond)
	reconciler := flow.NewReconciler(h.provider, h.audit, h.bus, h.mail, "/checkout/success")
	janitor := flow.NewJanitor(h.gate, h.bus, time.Second)
	manager := flow.NewManager(time.Minute)
	initiator := reservation.NewInitiator(h.resv)

	h.svc = flow.NewService(h.gate, h.inv, initiator, orchestrator, reconciler,
		janitor, manager, h.bus, 2, time.Minute)
	return h
}

var testBuyer = reservation.Buyer{ID: 7, Name: "Jamie"}

func (h *harness) enter(t *testing.T) *flow.View {
	t.Helper()
	view, err := h.svc.Enter(context.Background(), flow.EnterRequest{
		Buyer:       testBuyer,
		BuyerEmail:  "jamie@example.com",
		ProductID:   42,
		ProductName: "Spring Gala",
		StageID:     5,
	})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	return view
}

func (h *harness) waitView(t *testing.T, flowID string, cond func(*flow.View) bool) *flow.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := h.svc.View(flowID, testBuyer.ID)
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if cond(view) {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
	return nil
}

func (h *harness) toPaymentStep(t *testing.T) *flow.View {
	t.Helper()
	view := h.enter(t)
	ctx := context.Background()
	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 11); err != nil {
		t.Fatalf("toggle 11: %v", err)
	}
	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 12); err != nil {
		t.Fatalf("toggle 12: %v", err)
	}
	reserved, err := h.svc.Reserve(ctx, view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return reserved
}

// ---------- Tests ----------

func TestEnterDeniedFetchesNothing(t *testing.T) {
	h := newHarness(t)
	h.gate.result = domain.AdmissionFail("admission pending: busy")

	_, err := h.svc.Enter(context.Background(), flow.EnterRequest{
		Buyer: testBuyer, ProductID: 42, StageID: 5,
	})

	var denied *flow.AdmissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AdmissionDeniedError, got %v", err)
	}
	if denied.Reason == "" {
		t.Fatal("denied without a reason")
	}
	if h.inv.callCount() != 0 {
		t.Fatalf("inventory fetched %d times despite denial", h.inv.callCount())
	}
}

func TestEnterMarksSelectableSeats(t *testing.T) {
	h := newHarness(t)
	view := h.enter(t)

	if view.Step != flow.StepSelect {
		t.Fatalf("step %s, want select", view.Step)
	}
	if len(view.Seats) != 5 {
		t.Fatalf("expected 5 seats rendered, got %d", len(view.Seats))
	}

	selectable := map[int64]bool{}
	for _, seat := range view.Seats {
		selectable[seat.SeatID] = seat.Selectable
		if seat.Color == "" {
			t.Fatalf("seat %d has no grade color", seat.SeatID)
		}
	}
	// 13 is RESERVED, 14 sits on an inactive seat
	if !selectable[11] || !selectable[12] || selectable[13] || selectable[14] || !selectable[15] {
		t.Fatalf("wrong selectability: %+v", selectable)
	}
}

func TestEnterInventoryFailureReleasesAdmission(t *testing.T) {
	h := newHarness(t)
	h.inv.fail = true

	_, err := h.svc.Enter(context.Background(), flow.EnterRequest{
		Buyer: testBuyer, ProductID: 42, StageID: 5,
	})
	if !errors.Is(err, flow.ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}

	if got := h.gate.releases.Load(); got != 1 {
		t.Fatalf("%d releases after aborted entry, want 1", got)
	}
}

func TestSecondFlowForSameProductRejected(t *testing.T) {
	h := newHarness(t)
	h.enter(t)

	_, err := h.svc.Enter(context.Background(), flow.EnterRequest{
		Buyer: testBuyer, ProductID: 42, StageID: 5,
	})
	if !errors.Is(err, flow.ErrFlowActive) {
		t.Fatalf("expected ErrFlowActive, got %v", err)
	}
}

func TestToggleCapAndNonSelectableSeats(t *testing.T) {
	h := newHarness(t)
	view := h.enter(t)
	ctx := context.Background()

	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 13); !errors.Is(err, flow.ErrSeatNotSelectable) {
		t.Fatalf("reserved seat toggled: %v", err)
	}

	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 11); err != nil {
		t.Fatalf("toggle 11: %v", err)
	}
	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 12); err != nil {
		t.Fatalf("toggle 12: %v", err)
	}

	// cap is 2: a third selectable seat is rejected without mutating the set
	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 15); !errors.Is(err, selection.ErrSelectionFull) {
		t.Fatalf("expected ErrSelectionFull, got %v", err)
	}

	// removal is always allowed, even at cap
	toggled, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 11)
	if err != nil {
		t.Fatalf("toggle 11 off: %v", err)
	}
	if toggled.SelectedCount != 1 || toggled.TotalPrice != 70000 {
		t.Fatalf("unexpected selection after removal: count=%d total=%d", toggled.SelectedCount, toggled.TotalPrice)
	}

	if _, err := h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 11); err != nil {
		t.Fatalf("toggle 11 back on: %v", err)
	}
	full, err := h.svc.View(view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if full.SelectedCount != 2 || full.TotalPrice != 120000 {
		t.Fatalf("unexpected selection: count=%d total=%d", full.SelectedCount, full.TotalPrice)
	}
}

func TestReserveMovesToPaymentStep(t *testing.T) {
	h := newHarness(t)
	view := h.toPaymentStep(t)

	if view.Step != flow.StepPayment {
		t.Fatalf("step %s, want payment", view.Step)
	}
	if len(view.Reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(view.Reservations))
	}
	if view.Reservations[0].Price != 50000 || view.Reservations[1].Price != 70000 {
		t.Fatalf("reservation prices drifted from selection: %+v", view.Reservations)
	}
}

func TestReserveKeepsPartialBatchVisible(t *testing.T) {
	h := newHarness(t)
	h.resv.failOn = 2
	view := h.enter(t)
	ctx := context.Background()

	h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 11)
	h.svc.ToggleSeat(ctx, view.ID, testBuyer.ID, 12)

	_, err := h.svc.Reserve(ctx, view.ID, testBuyer.ID)
	if !errors.Is(err, flow.ErrReservationFailed) {
		t.Fatalf("expected ErrReservationFailed, got %v", err)
	}

	after, viewErr := h.svc.View(view.ID, testBuyer.ID)
	if viewErr != nil {
		t.Fatalf("view: %v", viewErr)
	}
	if after.Step != flow.StepSelect {
		t.Fatalf("failed batch must not advance the step, got %s", after.Step)
	}
	// the one record created before the failure is still reported
	if len(after.Reservations) != 1 {
		t.Fatalf("expected 1 surviving reservation, got %d", len(after.Reservations))
	}
}

func TestPaymentSuccessScenario(t *testing.T) {
	h := newHarness(t)
	view := h.toPaymentStep(t)
	ctx := context.Background()

	paying, err := h.svc.StartPayment(ctx, view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}
	if paying.Order == nil || paying.Order.Amount != 120000 {
		t.Fatalf("unexpected order: %+v", paying.Order)
	}
	if paying.Order.CheckoutURL == "" {
		t.Fatal("no checkout url handed out")
	}

	h.bus.Publish(ctx, events.PaymentOutcomeSubject(paying.Order.OrderID), domain.PaymentOutcome{
		Type:       domain.OutcomeSuccess,
		OrderID:    paying.Order.OrderID,
		PaymentKey: "pk-1",
		Amount:     120000,
	})

	done := h.waitView(t, view.ID, func(v *flow.View) bool { return v.PaymentCompleted })
	if done.Completed == nil || done.Completed.RedirectTo != "/checkout/success" {
		t.Fatalf("unexpected completion: %+v", done.Completed)
	}

	h.provider.mu.Lock()
	confirmed := append([]int64(nil), h.provider.confirmed...)
	h.provider.mu.Unlock()
	if len(confirmed) != 1 || confirmed[0] != 120000 {
		t.Fatalf("confirmation calls %v, want [120000]", confirmed)
	}

	// success consumes the slot: zero releases, even through teardown
	if err := h.svc.Teardown(ctx, view.ID, testBuyer.ID); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := h.gate.releases.Load(); got != 0 {
		t.Fatalf("%d releases after successful payment, want 0", got)
	}

	h.mail.mu.Lock()
	defer h.mail.mu.Unlock()
	if len(h.mail.sent) != 1 || h.mail.sent[0] != "jamie@example.com" {
		t.Fatalf("confirmation mail sent to %v", h.mail.sent)
	}
}

func TestConfirmationRejectionSurfacesAsFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.confirmErr = errors.New("confirmation rejected: amount mismatch")
	view := h.toPaymentStep(t)
	ctx := context.Background()

	paying, err := h.svc.StartPayment(ctx, view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}

	h.bus.Publish(ctx, events.PaymentOutcomeSubject(paying.Order.OrderID), domain.PaymentOutcome{
		Type:       domain.OutcomeSuccess,
		OrderID:    paying.Order.OrderID,
		PaymentKey: "pk-1",
		Amount:     120000,
	})

	failed := h.waitView(t, view.ID, func(v *flow.View) bool { return v.LastFailure != nil })
	if failed.PaymentCompleted {
		t.Fatal("provider-side success must not complete the flow when confirmation rejects")
	}
	if failed.LastFailure.Code != "CONFIRMATION_REJECTED" {
		t.Fatalf("failure code %q", failed.LastFailure.Code)
	}
}

func TestRetryReusesReservationSet(t *testing.T) {
	h := newHarness(t)
	view := h.toPaymentStep(t)
	ctx := context.Background()

	first, err := h.svc.StartPayment(ctx, view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}

	h.bus.Publish(ctx, events.PaymentOutcomeSubject(first.Order.OrderID), domain.PaymentOutcome{
		Type:    domain.OutcomeFail,
		OrderID: first.Order.OrderID,
		Code:    "DECLINED",
		Message: "card declined",
	})
	h.waitView(t, view.ID, func(v *flow.View) bool { return v.LastFailure != nil })

	retried, err := h.svc.RetryPayment(ctx, view.ID, testBuyer.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Order.OrderID == first.Order.OrderID {
		t.Fatal("retry must create a new payment order")
	}

	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	if len(h.provider.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(h.provider.orders))
	}
	for i, order := range h.provider.orders {
		if len(order.Items) != 2 {
			t.Fatalf("order %d has %d items", i, len(order.Items))
		}
		for j := range order.Items {
			if order.Items[j].ReservationID != h.provider.orders[0].Items[j].ReservationID {
				t.Fatal("retry referenced different reservation ids")
			}
		}
	}
	// no new reservation records were created for the retry
	if h.resv.callCount() != 2 {
		t.Fatalf("reservation service called %d times, want 2", h.resv.callCount())
	}
}

func TestRetryWithoutFailureRejected(t *testing.T) {
	h := newHarness(t)
	view := h.toPaymentStep(t)

	_, err := h.svc.RetryPayment(context.Background(), view.ID, testBuyer.ID)
	if !errors.Is(err, flow.ErrNoFailedPayment) {
		t.Fatalf("expected ErrNoFailedPayment, got %v", err)
	}
}

func TestSilentPopupResolvesToRetryableCancel(t *testing.T) {
	h := newHarness(t)
	h.monitor.alive = false // popup never opens, never heartbeats
	view := h.toPaymentStep(t)

	if _, err := h.svc.StartPayment(context.Background(), view.ID, testBuyer.ID); err != nil {
		t.Fatalf("start payment: %v", err)
	}

	failed := h.waitView(t, view.ID, func(v *flow.View) bool { return v.LastFailure != nil })
	if failed.LastFailure.Message != "payment canceled" {
		t.Fatalf("unexpected failure %+v", failed.LastFailure)
	}
	if failed.PaymentCompleted {
		t.Fatal("cancel completed the payment")
	}

	// cancel is always retryable
	if _, err := h.svc.RetryPayment(context.Background(), view.ID, testBuyer.ID); err != nil {
		t.Fatalf("retry after cancel: %v", err)
	}
}

func TestTeardownReleasesOnce(t *testing.T) {
	h := newHarness(t)
	view := h.enter(t)
	ctx := context.Background()

	if err := h.svc.Teardown(ctx, view.ID, testBuyer.ID); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	h.gate.waitRelease(t)

	// the session is gone; a second beacon is a no-op
	if err := h.svc.Teardown(ctx, view.ID, testBuyer.ID); !errors.Is(err, flow.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound on second teardown, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := h.gate.releases.Load(); got != 1 {
		t.Fatalf("%d releases, want exactly 1", got)
	}
}

func TestSweepReleasesAbandonedFlows(t *testing.T) {
	h := newHarness(t)
	view := h.enter(t)

	h.svc.Sweep(time.Now().Add(2 * time.Minute))
	h.gate.waitRelease(t)

	if _, err := h.svc.View(view.ID, testBuyer.ID); !errors.Is(err, flow.ErrFlowNotFound) {
		t.Fatalf("expected swept flow to be gone, got %v", err)
	}
	if got := h.gate.releases.Load(); got != 1 {
		t.Fatalf("%d releases after sweep, want 1", got)
	}
}
