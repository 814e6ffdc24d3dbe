package flow

import (
	"context"
	"time"

	"github.com/stagepass/checkout/internal/admission"
	"github.com/stagepass/checkout/pkg/events"
	"github.com/stagepass/checkout/pkg/logger"
)

// Janitor gives admission slots back when a flow is abandoned: a teardown
// beacon from the closing tab, or the expiry sweep for flows that just went
// quiet. It never releases after a completed payment, and never releases
// the same session twice, whichever order the triggers fire in.
type Janitor struct {
	gate    admission.Gate
	bus     events.Publisher
	timeout time.Duration
}

func NewJanitor(gate admission.Gate, bus events.Publisher, timeout time.Duration) *Janitor {
	return &Janitor{gate: gate, bus: bus, timeout: timeout}
}

// Release fires the (single) release attempt for the session. The network
// call runs detached from the caller's context so a beacon from a dying tab
// still gets its release delivered after the request tears down.
func (j *Janitor) Release(sess *Session, trigger string) bool {
	if !sess.beginRelease() {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		if err := j.gate.Release(ctx, sess.Buyer.ID, sess.ProductID); err != nil {
			logger.Warn("Admission release failed",
				"error", err,
				"flow_id", sess.ID,
				"trigger", trigger,
			)
		}

		if err := j.bus.Publish(ctx, events.AdmissionReleased, events.AdmissionReleasedEvent{
			BuyerID:    sess.Buyer.ID,
			ProductID:  sess.ProductID,
			Trigger:    trigger,
			ReleasedAt: time.Now(),
		}); err != nil {
			logger.Warn("Failed to publish admission release event", "error", err, "flow_id", sess.ID)
		}
	}()

	return true
}
