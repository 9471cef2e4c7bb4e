package model

import (
	"time"

	"github.com/google/uuid"
)

// StatsFilter narrows booking statistics. Zero From/To leave that side open.
type StatsFilter struct {
	DoctorID *uuid.UUID
	From     time.Time
	To       time.Time
}

// BookingStats is a read-only rollup over bookings.
type BookingStats struct {
	Total         int                   `json:"total"`
	ByStatus      map[BookingStatus]int `json:"by_status"`
	ByDoctor      map[uuid.UUID]int     `json:"by_doctor"`
	BookedMinutes int64                 `json:"booked_minutes"`
	OpenMinutes   int64                 `json:"open_minutes"`
	Utilization   float64               `json:"utilization"`
}
