package flow

import (
	"sync"
	"time"

	"github.com/stagepass/checkout/internal/domain"
	"github.com/stagepass/checkout/internal/reservation"
	"github.com/stagepass/checkout/internal/selection"
)

// Step is where the flow currently is: picking seats or paying for them.
type Step string

const (
	StepSelect  Step = "select"
	StepPayment Step = "payment"
)

// Failure is the last payment failure, kept so the UI can offer a retry
// against the same reservation set.
type Failure struct {
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Completion is the terminal success state of a flow.
type Completion struct {
	OrderID    string `json:"order_id"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
	RedirectTo string `json:"redirect_to"`
}

// Session is the server-held flow state for one buyer's visit to one
// product's reservation page. The admission-verified and payment-completed
// flags live here rather than in ambient globals so the janitor and the
// outcome watcher read the latest value at the moment they fire.
type Session struct {
	mu sync.Mutex

	ID         string
	Buyer      reservation.Buyer
	BuyerEmail string
	ProductID  int64
	ProductName string
	StageID    int64

	Step              Step
	AdmissionVerified bool

	// All reservation seats of the product, for rendering; selectable is
	// the subset a toggle may act on.
	Seats      []domain.SelectableSeat
	selectable map[int64]domain.SelectableSeat
	Palette    *selection.GradePalette
	Selection  *selection.Set

	Reservations []domain.Reservation
	Order        *domain.PaymentOrder

	PaymentCompleted bool
	AwaitingOutcome  bool
	LastFailure      *Failure
	Completed        *Completion

	releaseAttempted bool
	Deadline         time.Time
}

// beginRelease flips the release guard. It returns true at most once per
// session, and never once payment has completed: the success path consumes
// the admission slot server-side and a late release could invalidate state
// other systems rely on.
func (s *Session) beginRelease() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PaymentCompleted || s.releaseAttempted {
		return false
	}
	s.releaseAttempted = true
	return true
}

func (s *Session) selectableSeat(seatID int64) (domain.SelectableSeat, bool) {
	seat, ok := s.selectable[seatID]
	return seat, ok
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.Deadline)
}

// SeatView is one seat as presented to the UI.
type SeatView struct {
	SeatID     int64  `json:"seat_id"`
	SeatNumber string `json:"seat_number"`
	Grade      string `json:"grade"`
	Color      string `json:"color"`
	Price      int64  `json:"price"`
	Status     string `json:"status"`
	Selected   bool   `json:"selected"`
	Selectable bool   `json:"selectable"`
}

// View is a consistent snapshot of the session for the UI.
type View struct {
	ID               string               `json:"id"`
	ProductID        int64                `json:"product_id"`
	ProductName      string               `json:"product_name"`
	Step             Step                 `json:"step"`
	Seats            []SeatView           `json:"seats"`
	GradeColors      map[string]string    `json:"grade_colors"`
	SelectedCount    int                  `json:"selected_count"`
	MaxTickets       int                  `json:"max_tickets"`
	TotalPrice       int64                `json:"total_price"`
	Reservations     []domain.Reservation `json:"reservations,omitempty"`
	Order            *domain.PaymentOrder `json:"order,omitempty"`
	AwaitingOutcome  bool                 `json:"awaiting_outcome"`
	PaymentCompleted bool                 `json:"payment_completed"`
	LastFailure      *Failure             `json:"last_failure,omitempty"`
	Completed        *Completion          `json:"completed,omitempty"`
}

func (s *Session) snapshotLocked(maxTickets int) *View {
	seats := make([]SeatView, 0, len(s.Seats))
	for _, seat := range s.Seats {
		color, _ := s.Palette.Color(seat.Grade)
		_, selectable := s.selectable[seat.SeatID]
		seats = append(seats, SeatView{
			SeatID:     seat.SeatID,
			SeatNumber: seat.SeatNumber,
			Grade:      seat.Grade,
			Color:      color,
			Price:      seat.Price,
			Status:     string(seat.Status),
			Selected:   s.Selection.Contains(seat.SeatID),
			Selectable: selectable,
		})
	}

	view := &View{
		ID:               s.ID,
		ProductID:        s.ProductID,
		ProductName:      s.ProductName,
		Step:             s.Step,
		Seats:            seats,
		GradeColors:      s.Palette.Colors(),
		SelectedCount:    s.Selection.Size(),
		MaxTickets:       maxTickets,
		TotalPrice:       s.Selection.TotalPrice(),
		Order:            s.Order,
		AwaitingOutcome:  s.AwaitingOutcome,
		PaymentCompleted: s.PaymentCompleted,
		LastFailure:      s.LastFailure,
		Completed:        s.Completed,
	}
	view.Reservations = append(view.Reservations, s.Reservations...)
	return view
}
