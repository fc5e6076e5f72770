package services

import "github.com/gitshopapp/checkout/internal/models"

// Action is what the payment pipeline does with one provider observation.
type Action string

const (
	ActionFulfill          Action = "fulfill"
	ActionAlreadyFulfilled Action = "already_fulfilled"
	ActionFlagForReview    Action = "flag_for_review"
	ActionMarkFailed       Action = "mark_failed"
	ActionIgnoreFailure    Action = "ignore_failure"
	ActionAwaitProvider    Action = "await_provider"
	ActionUnknownStatus    Action = "unknown_status"
	ActionOrderNotFound    Action = "order_not_found"
)

// Mutates reports whether executing the action writes order state.
func (a Action) Mutates() bool {
	switch a {
	case ActionFulfill, ActionFlagForReview, ActionMarkFailed:
		return true
	default:
		return false
	}
}

// Decide maps an order and a provider observation to the next action. It never
// moves a paid order anywhere else.
func Decide(order *models.Order, txn *models.Transaction, consistent bool) Action {
	switch {
	case txn.Status == models.TransactionApproved:
		if !consistent {
			return ActionFlagForReview
		}
		if order.IsPaid() {
			return ActionAlreadyFulfilled
		}
		return ActionFulfill
	case txn.Status.IsFailure():
		if order.PaymentStatus == models.PaymentPaid || order.PaymentStatus == models.PaymentFailed {
			return ActionIgnoreFailure
		}
		return ActionMarkFailed
	case txn.Status == models.TransactionPending:
		return ActionAwaitProvider
	default:
		return ActionUnknownStatus
	}
}
