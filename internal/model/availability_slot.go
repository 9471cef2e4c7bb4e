package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilitySlot is a concrete, date-stamped window a doctor has opened for booking.
// Unique per (DoctorID, Date, Start, End).
type AvailabilitySlot struct {
	ID         int64     `json:"id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	TemplateID *int64    `json:"template_id"` // nil for manually managed slots
	Date       time.Time `json:"date"`
	Start      TimeOfDay `json:"start"`
	End        TimeOfDay `json:"end"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *AvailabilitySlot) Window() Window {
	return Window{Start: s.Start, End: s.End}
}

// IsManual reports whether the slot is detached from any template.
func (s *AvailabilitySlot) IsManual() bool {
	return s.TemplateID == nil
}
