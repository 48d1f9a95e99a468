package venue

import "errors"

var (
	// ErrTransferFailed is returned when the custody-transfer primitive
	// rejects a movement. The enclosing operation aborts before any health
	// check runs.
	ErrTransferFailed = errors.New("custody transfer failed")

	// ErrVenueRejected is returned when the matching venue refuses an order.
	ErrVenueRejected = errors.New("matching venue rejected order")
)
