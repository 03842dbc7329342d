package services

import "errors"

// Error taxonomy shared by the planner services. Controllers translate these
// into HTTP status codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("schedule conflict")
	ErrNoCapacity      = errors.New("no free slot within horizon")
	ErrExternalService = errors.New("external service failure")
)
