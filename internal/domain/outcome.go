package domain

// Outcome is the terminal state of one dispatched item.
//
//	Discovered → Enqueued → {Deduped | PipelineRunning}
//	           → {Delivered | Abandoned | DeliveryFailed}
//
// Every outcome removes the item from its queue.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeDeduped        Outcome = "deduped"
	OutcomeAbandoned      Outcome = "abandoned"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeSkipped        Outcome = "skipped"
)

// Outcomes lists every outcome, in a stable order for metrics registration.
var Outcomes = []Outcome{
	OutcomeDelivered,
	OutcomeDeduped,
	OutcomeAbandoned,
	OutcomeDeliveryFailed,
	OutcomeSkipped,
}
