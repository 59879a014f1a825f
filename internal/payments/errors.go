package payments

import "errors"

var (
	ErrNotFound = errors.New("payment not found")
	// ErrPaymentSettled is returned when an operation would move a PAID
	// payment out of PAID.
	ErrPaymentSettled = errors.New("payment already settled")
	ErrTxRefExhausted = errors.New("could not allocate a unique tx_ref")
)
