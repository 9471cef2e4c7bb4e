package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSlot means a slot with the same doctor, date and time range already exists.
	ErrDuplicateSlot = errors.New("duplicate availability slot")
	// ErrBookingOverlap means the exclusion constraint rejected an overlapping active booking.
	ErrBookingOverlap = errors.New("overlapping active booking")
	// ErrDuplicateIdempotencyKey means a booking with the same idempotency key was already stored.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrCacheMiss is returned by the availability cache when nothing is stored under a key.
	ErrCacheMiss = errors.New("cache miss")
)
