package services

import "errors"

// ErrValidation marks caller errors surfaced as 400s. Wrapped errors carry
// the specific message.
var ErrValidation = errors.New("invalid input")

// ErrForbidden is returned when the acting user may not perform the operation.
var ErrForbidden = errors.New("forbidden")

// ErrDelivery is returned when recovery mail could not be sent. It is kept
// distinct from the generic recovery response so operators can tell SMTP
// misconfiguration apart from lookups of unknown accounts.
var ErrDelivery = errors.New("mail delivery failed")
