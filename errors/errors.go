package errors

import "errors"

var (
	ErrMalformedHeader = errors.New("datagram header is malformed")
	ErrUnknownKind     = errors.New("datagram kind is out of the known set")

	ErrRetryBudgetExhausted = errors.New("retry budget is exhausted without an acknowledgement")
	ErrIdleTimeout          = errors.New("session stayed idle longer than the allowed duration")
	ErrIncomplete           = errors.New("transfer terminated before all packets arrived")
)
