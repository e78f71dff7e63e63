package service

import "errors"

// Sentinel errors returned by the Service.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidRequest = errors.New("invalid request")
	ErrDuplicate      = errors.New("duplicate request")
	ErrInvalidRating  = errors.New("invalid rating")
	ErrStoreClosed    = errors.New("store closed by an earlier stop")
)
