package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated       = "order.created"
	TopicPaymentSucceeded   = "payment.succeeded"
	TopicPaymentFailed      = "payment.failed"
	TopicSettlementRecorded = "settlement.recorded"
)

// DefaultTopics returns the canonical list of topics notifiers may subscribe to.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicSettlementRecorded,
	}
}
