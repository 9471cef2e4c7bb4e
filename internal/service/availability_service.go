package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
)

// SlotQuery selects one doctor's calendar date.
type SlotQuery struct {
	DoctorID uuid.UUID `validate:"required"`
	Date     time.Time `validate:"required"`
}

// SlotRequest describes a manually managed slot.
type SlotRequest struct {
	DoctorID uuid.UUID       `validate:"required"`
	Date     time.Time       `validate:"required"`
	Start    model.TimeOfDay `validate:"gte=0,lte=1440"`
	End      model.TimeOfDay `validate:"gte=0,lte=1440,gtfield=Start"`
}

type AvailabilityConfig struct {
	Location *time.Location
	Now      func() time.Time
}

// AvailabilityService answers "what is free" and manages slots directly.
type AvailabilityService struct {
	slots     slotStore
	bookings  activeBookingReader
	cache     availabilityCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AvailabilityConfig
}

func NewAvailabilityService(
	slots slotStore,
	bookings activeBookingReader,
	cache availabilityCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AvailabilityConfig,
) *AvailabilityService {
	if cache == nil {
		cache = nopCache{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AvailabilityService{
		slots:     slots,
		bookings:  bookings,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// GetAvailableSlots returns the doctor's slots on a date that no pending or confirmed booking
// overlaps, ordered by start. Slots that already started are left out. An empty list is a
// normal answer.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, q SlotQuery) ([]*model.AvailabilitySlot, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, validationError(err)
	}

	now := s.cfg.Now()
	today := model.DateOf(now, s.cfg.Location)
	date := model.NormalizeDate(q.Date)
	if date.Before(today) {
		return []*model.AvailabilitySlot{}, nil
	}

	slots, err := s.unbookedSlots(ctx, q.DoctorID, date)
	if err != nil {
		return nil, err
	}

	available := make([]*model.AvailabilitySlot, 0, len(slots))
	for _, slot := range slots {
		if date.Equal(today) && model.At(date, slot.Start, s.cfg.Location).Before(now) {
			continue
		}
		available = append(available, slot)
	}

	return available, nil
}

// GetFreeWindows returns the parts of the doctor's slots on a date that are neither booked
// nor already in the past. Overlapping or touching parts are merged.
func (s *AvailabilityService) GetFreeWindows(ctx context.Context, q SlotQuery) ([]model.Window, error) {
	if err := s.validator.Struct(q); err != nil {
		return nil, validationError(err)
	}

	now := s.cfg.Now()
	today := model.DateOf(now, s.cfg.Location)
	date := model.NormalizeDate(q.Date)
	if date.Before(today) {
		return []model.Window{}, nil
	}

	slots, err := s.slots.ListByDoctorDate(ctx, q.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bookings, err := s.bookings.ListActiveByDoctorDate(ctx, q.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	cuts := make([]model.Window, 0, len(bookings)+1)
	for _, b := range bookings {
		cuts = append(cuts, b.Window())
	}
	if date.Equal(today) {
		cuts = append(cuts, model.Window{Start: 0, End: elapsedMinutes(now.In(s.cfg.Location))})
	}

	var free []model.Window
	for _, slot := range slots {
		free = append(free, slot.Window().Subtract(cuts)...)
	}

	return mergeWindows(free), nil
}

// CreateManualSlot opens a slot that no template manages.
func (s *AvailabilityService) CreateManualSlot(ctx context.Context, req SlotRequest) (*model.AvailabilitySlot, error) {
	if err := s.validateSlotRequest(req); err != nil {
		return nil, err
	}

	slot := &model.AvailabilitySlot{
		DoctorID: req.DoctorID,
		Date:     model.NormalizeDate(req.Date),
		Start:    req.Start,
		End:      req.End,
	}

	if err := s.slots.CreateManual(ctx, slot); err != nil {
		if errors.Is(err, repository.ErrDuplicateSlot) {
			return nil, ErrSlotExists
		}
		return nil, fmt.Errorf("create manual slot: %w", err)
	}

	s.invalidate(ctx, slot.DoctorID, slot.Date)

	s.logger.Info("Manual slot created",
		zap.Int64("slot_id", slot.ID),
		zap.String("doctor_id", slot.DoctorID.String()),
		zap.String("date", slot.Date.Format(model.DateLayout)),
		zap.Stringer("window", slot.Window()))

	return slot, nil
}

// UpdateSlot moves a slot. The slot is detached from its template afterwards.
func (s *AvailabilityService) UpdateSlot(ctx context.Context, id int64, req SlotRequest) (*model.AvailabilitySlot, error) {
	if err := s.validateSlotRequest(req); err != nil {
		return nil, err
	}

	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if slot == nil || slot.DoctorID != req.DoctorID {
		return nil, ErrNotFound
	}

	previousDate := slot.Date
	slot.Date = model.NormalizeDate(req.Date)
	slot.Start = req.Start
	slot.End = req.End

	if err := s.slots.Update(ctx, slot); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateSlot):
			return nil, ErrSlotExists
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update slot: %w", err)
	}
	slot.TemplateID = nil

	s.invalidate(ctx, slot.DoctorID, previousDate)
	if !previousDate.Equal(slot.Date) {
		s.invalidate(ctx, slot.DoctorID, slot.Date)
	}

	return slot, nil
}

// DeleteSlot removes a slot of the doctor. Bookings inside it are not touched.
func (s *AvailabilityService) DeleteSlot(ctx context.Context, doctorID uuid.UUID, id int64) error {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	if slot == nil || slot.DoctorID != doctorID {
		return ErrNotFound
	}

	if err := s.slots.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete slot: %w", err)
	}

	s.invalidate(ctx, doctorID, slot.Date)
	return nil
}

func (s *AvailabilityService) validateSlotRequest(req SlotRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err)
	}
	today := model.DateOf(s.cfg.Now(), s.cfg.Location)
	if model.NormalizeDate(req.Date).Before(today) {
		return fmt.Errorf("%w: date %s is in the past", ErrValidation, req.Date.Format(model.DateLayout))
	}
	return nil
}

// unbookedSlots is the cacheable part of availability: slots minus active bookings.
func (s *AvailabilityService) unbookedSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error) {
	cached, err := s.cache.Get(ctx, doctorID, date)
	switch {
	case err == nil:
		s.metrics.RecordCacheLookup(true)
		return cached, nil
	case !errors.Is(err, repository.ErrCacheMiss):
		s.logger.Warn("Availability cache read failed",
			zap.String("doctor_id", doctorID.String()),
			zap.Error(err))
	}
	s.metrics.RecordCacheLookup(false)

	slots, err := s.slots.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bookings, err := s.bookings.ListActiveByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	unbooked := make([]*model.AvailabilitySlot, 0, len(slots))
	for _, slot := range slots {
		if !overlapsAny(slot.Window(), bookings) {
			unbooked = append(unbooked, slot)
		}
	}
	sort.SliceStable(unbooked, func(i, j int) bool { return unbooked[i].Start < unbooked[j].Start })

	// An invalidation that landed since the lookup above wins; the cache skips this fill.
	if err := s.cache.Set(ctx, doctorID, date, unbooked); err != nil {
		s.logger.Warn("Availability cache write failed",
			zap.String("doctor_id", doctorID.String()),
			zap.Error(err))
	}

	return unbooked, nil
}

func (s *AvailabilityService) invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if err := s.cache.Invalidate(ctx, doctorID, date); err != nil {
		s.logger.Warn("Failed to invalidate availability cache",
			zap.String("doctor_id", doctorID.String()),
			zap.String("date", date.Format(model.DateLayout)),
			zap.Error(err))
	}
}

func overlapsAny(w model.Window, bookings []*model.Booking) bool {
	for _, b := range bookings {
		if b.Window().Overlaps(w) {
			return true
		}
	}
	return false
}

// elapsedMinutes rounds the wall clock of t up to the next whole minute.
func elapsedMinutes(t time.Time) model.TimeOfDay {
	minutes := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		minutes++
	}
	return model.TimeOfDay(minutes)
}

func mergeWindows(windows []model.Window) []model.Window {
	merged := make([]model.Window, 0, len(windows))
	if len(windows) == 0 {
		return merged
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	current := windows[0]
	for _, w := range windows[1:] {
		if w.Start <= current.End {
			if w.End > current.End {
				current.End = w.End
			}
			continue
		}
		merged = append(merged, current)
		current = w
	}
	return append(merged, current)
}
