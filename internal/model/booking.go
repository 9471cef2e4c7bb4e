package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // awaiting doctor confirmation
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// IsActive reports whether a booking in status s holds its window.
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type Booking struct {
	ID             int64         `json:"id"`
	DoctorID       uuid.UUID     `json:"doctor_id"`
	HospitalID     uuid.UUID     `json:"hospital_id"`
	Date           time.Time     `json:"date"`
	Start          TimeOfDay     `json:"start"`
	End            TimeOfDay     `json:"end"`
	Status         BookingStatus `json:"status"`
	IdempotencyKey *string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (b *Booking) Window() Window {
	return Window{Start: b.Start, End: b.End}
}

// IsActive reports whether the booking still holds its window.
func (b *Booking) IsActive() bool {
	return b.Status.IsActive()
}
