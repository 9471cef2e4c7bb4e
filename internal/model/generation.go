package model

import "github.com/google/uuid"

// DoctorFailure records why generation for one doctor stopped early.
type DoctorFailure struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Error    string    `json:"error"`
}

// GenerationSummary is the result of one slot generation run.
type GenerationSummary struct {
	TemplatesProcessed int             `json:"templates_processed"`
	TemplatesExpired   int             `json:"templates_expired"`
	SlotsCreated       int             `json:"slots_created"`
	Skipped            int             `json:"skipped"`
	Failures           []DoctorFailure `json:"per_doctor_errors"`
}

// Add folds another partial summary into s.
func (s *GenerationSummary) Add(o GenerationSummary) {
	s.TemplatesProcessed += o.TemplatesProcessed
	s.TemplatesExpired += o.TemplatesExpired
	s.SlotsCreated += o.SlotsCreated
	s.Skipped += o.Skipped
	s.Failures = append(s.Failures, o.Failures...)
}
