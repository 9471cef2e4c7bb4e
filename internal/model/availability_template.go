package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilityTemplate is a doctor's recurring weekly availability declaration
type AvailabilityTemplate struct {
	ID        int64      `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Weekday   int        `json:"weekday"` // 0 = Sunday, 6 = Saturday
	Start     TimeOfDay  `json:"start"`
	End       TimeOfDay  `json:"end"`
	IsActive  bool       `json:"is_active"`
	ExpiresOn *time.Time `json:"expires_on,omitempty"` // last date the template applies to, nil = never expires
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Window returns the template's time range.
func (t *AvailabilityTemplate) Window() Window {
	return Window{Start: t.Start, End: t.End}
}

// Expired reports whether the template no longer applies on or after date.
func (t *AvailabilityTemplate) Expired(date time.Time) bool {
	return t.ExpiresOn != nil && NormalizeDate(*t.ExpiresOn).Before(NormalizeDate(date))
}

// AppliesOn reports whether the template yields a slot on date.
func (t *AvailabilityTemplate) AppliesOn(date time.Time) bool {
	return t.IsActive && !t.Expired(date) && int(date.Weekday()) == t.Weekday
}
