package events

import "time"

// ObserverDeliveryStart is emitted when a webhook delivery attempt begins.
type ObserverDeliveryStart struct {
	Observer  string
	Operation string
	Attempt   int
}

// ObserverDeliveryFinish is emitted after a delivery attempt, successful or
// not. Exhausted is set on the terminal failure of the final attempt.
type ObserverDeliveryFinish struct {
	Observer  string
	Operation string
	Attempt   int
	Status    int
	Err       error
	Exhausted bool
	Duration  time.Duration
}
