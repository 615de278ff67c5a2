package jobs

import (
	"fmt"
	"time"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryAfter
	outcomeRetryBackoff
	outcomeCancel
)

// Outcome is what a handler asks the scheduler to do with its job.
type Outcome struct {
	kind  outcomeKind
	delay time.Duration
	err   error
}

// Success drops the job.
func Success() Outcome { return Outcome{kind: outcomeSuccess} }

// RetryAfter runs the job again after d. The key stays reserved meanwhile.
func RetryAfter(d time.Duration) Outcome { return Outcome{kind: outcomeRetryAfter, delay: d} }

// RetryBackoff runs the job again after the key's next exponential backoff
// delay. Err, if set, is only logged.
func RetryBackoff(err error) Outcome { return Outcome{kind: outcomeRetryBackoff, err: err} }

// Cancel drops the job for good.
func Cancel(err error) Outcome { return Outcome{kind: outcomeCancel, err: err} }

func (o Outcome) Err() error { return o.err }

func (o Outcome) String() string {
	switch o.kind {
	case outcomeSuccess:
		return "success"
	case outcomeRetryAfter:
		return fmt.Sprintf("retry after %s", o.delay)
	case outcomeRetryBackoff:
		return "retry with backoff"
	case outcomeCancel:
		return "cancel"
	}
	return "unknown"
}
