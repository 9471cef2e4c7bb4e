package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
)

// transactor runs fn inside one database transaction carried by ctx.
type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type templateStore interface {
	Create(ctx context.Context, t *model.AvailabilityTemplate) error
	GetByID(ctx context.Context, id int64) (*model.AvailabilityTemplate, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilityTemplate, error)
	ListActiveByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*model.AvailabilityTemplate, error)
	Update(ctx context.Context, t *model.AvailabilityTemplate) error
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	LockDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) error
}

type activeTemplateLister interface {
	ListActive(ctx context.Context, doctorIDs []uuid.UUID) ([]*model.AvailabilityTemplate, error)
}

type slotInserter interface {
	InsertIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error)
}

type slotReader interface {
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error)
}

type slotStore interface {
	slotReader
	CreateManual(ctx context.Context, slot *model.AvailabilitySlot) error
	GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error)
	Update(ctx context.Context, slot *model.AvailabilitySlot) error
	Delete(ctx context.Context, id int64) error
}

type activeBookingReader interface {
	ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Booking, error)
}

type bookingStore interface {
	activeBookingReader
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error)
	UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error
	LockDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) error
}

type bookingStatsReader interface {
	CountByStatus(ctx context.Context, filter model.StatsFilter) (map[model.BookingStatus]int, error)
	CountByDoctor(ctx context.Context, filter model.StatsFilter) (map[uuid.UUID]int, error)
	BookedMinutes(ctx context.Context, filter model.StatsFilter) (int64, error)
}

type openMinutesReader interface {
	OpenMinutes(ctx context.Context, filter model.StatsFilter) (int64, error)
}

type availabilityCache interface {
	Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error)
	Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []*model.AvailabilitySlot) error
	Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error
	InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) error
}

// availabilityGenerator is what template edits use to refresh a doctor's calendar.
type availabilityGenerator interface {
	GenerateAvailability(ctx context.Context, req GenerateRequest) (*model.GenerationSummary, error)
}

// BookingNotifier is told about every booking that was committed.
type BookingNotifier interface {
	BookingCreated(ctx context.Context, booking *model.Booking) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, uuid.UUID, time.Time) ([]*model.AvailabilitySlot, error) {
	return nil, repository.ErrCacheMiss
}
func (nopCache) Set(context.Context, uuid.UUID, time.Time, []*model.AvailabilitySlot) error {
	return nil
}
func (nopCache) Invalidate(context.Context, uuid.UUID, time.Time) error { return nil }
func (nopCache) InvalidateDoctor(context.Context, uuid.UUID) error      { return nil }

type nopNotifier struct{}

func (nopNotifier) BookingCreated(context.Context, *model.Booking) error { return nil }
