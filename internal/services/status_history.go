package services

import (
	"context"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const maxTransitionNoteLength = 500

// statusHistoryRecorder appends transition records inside the ledger mutation and emits the
// order event once the write has committed.
type statusHistoryRecorder struct {
	policy *bluemonday.Policy
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

func newStatusHistoryRecorder(events OrderEventPublisher, logger func(context.Context, string, map[string]any)) *statusHistoryRecorder {
	return &statusHistoryRecorder{
		policy: bluemonday.StrictPolicy(),
		events: events,
		logger: logger,
	}
}

// append records status on order. It must run in the same mutation that sets order.Status.
func (r *statusHistoryRecorder) append(order *Order, status OrderStatus, actor Actor, notes string, at time.Time) StatusTransition {
	entry := StatusTransition{
		Status:    status,
		ChangedAt: at,
		Actor:     actor,
		Notes:     r.sanitize(notes),
	}
	order.StatusHistory = append(order.StatusHistory, entry)
	return entry
}

func (r *statusHistoryRecorder) sanitize(notes string) *string {
	clean := strings.TrimSpace(r.policy.Sanitize(notes))
	if clean == "" {
		return nil
	}
	if runes := []rune(clean); len(runes) > maxTransitionNoteLength {
		clean = string(runes[:maxTransitionNoteLength])
	}
	return &clean
}

// publish emits the event for the last transition of a committed order.
func (r *statusHistoryRecorder) publish(ctx context.Context, order Order, previous OrderStatus) {
	if r.events == nil {
		return
	}
	last, ok := order.LastTransition()
	if !ok {
		return
	}
	event := domain.OrderEvent{
		Type:           domain.OrderEventStatusChanged,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		Status:         last.Status,
		PreviousStatus: previous,
		Actor:          last.Actor,
		ChangedAt:      last.ChangedAt,
	}
	if err := r.events.PublishOrderEvent(ctx, event); err != nil {
		r.logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"status":  string(last.Status),
			"error":   err.Error(),
		})
	}
}
