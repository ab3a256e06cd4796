package events

import "time"

// SQLQueryStart is emitted before a statement is sent to the database.
type SQLQueryStart struct {
	Operation string
	SQL       string
	NumArgs   int
}

// SQLQueryFinish is emitted after a statement completes.
type SQLQueryFinish struct {
	Operation string
	SQL       string
	Rows      int
	Err       error
	Duration  time.Duration
}
