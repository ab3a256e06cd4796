package events

// MutationCommitted is emitted after a mutation's transaction commits.
// Observers and subscription delivery hang off this event; it is never
// emitted for rolled-back transactions.
type MutationCommitted struct {
	Operation string
	Kind      string
	Payload   map[string]any
}

// MutationFailed is emitted when a mutation rolls back.
type MutationFailed struct {
	Operation string
	Kind      string
	Err       error
}
