package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository/base"
)

// BookingRequest asks for a doctor's time window on a date. HospitalID is only needed to create.
type BookingRequest struct {
	DoctorID       uuid.UUID       `validate:"required"`
	HospitalID     uuid.UUID
	Date           time.Time       `validate:"required"`
	Start          model.TimeOfDay `validate:"gte=0,lte=1440"`
	End            model.TimeOfDay `validate:"gte=0,lte=1440,gtfield=Start"`
	IdempotencyKey string          `validate:"omitempty,max=128"`
}

func (r BookingRequest) Window() model.Window {
	return model.Window{Start: r.Start, End: r.End}
}

type OutcomeKind string

const (
	OutcomeFits       OutcomeKind = "fits"
	OutcomeCreated    OutcomeKind = "created"
	OutcomeValidation OutcomeKind = "validation"
	OutcomeCapacity   OutcomeKind = "capacity"
	OutcomeConflict   OutcomeKind = "conflict"
)

// Outcome is the answer of the booking guard. Exactly one Kind applies; Booking is set for
// OutcomeCreated and Conflicts for OutcomeConflict.
type Outcome struct {
	Kind      OutcomeKind      `json:"kind"`
	Booking   *model.Booking   `json:"booking,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Conflicts []*model.Booking `json:"conflicts,omitempty"`
	Replayed  bool             `json:"replayed,omitempty"` // an earlier booking with the same idempotency key
}

// Fits reports whether the window was (or could be) booked.
func (o *Outcome) Fits() bool {
	return o.Kind == OutcomeFits || o.Kind == OutcomeCreated
}

// Err maps rejections to ErrValidation, ErrCapacity or ErrConflict, and success to nil.
func (o *Outcome) Err() error {
	var sentinel error
	switch o.Kind {
	case OutcomeValidation:
		sentinel = ErrValidation
	case OutcomeCapacity:
		sentinel = ErrCapacity
	case OutcomeConflict:
		sentinel = ErrConflict
	default:
		return nil
	}
	if o.Reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, o.Reason)
}

type BookingConfig struct {
	InitialStatus model.BookingStatus
	// AllowManualAvailability admits windows inside an active template even when no slot was generated.
	AllowManualAvailability bool
	MaxRetries              uint64
	RetryBaseDelay          time.Duration
	// NotifyTimeout bounds the post-commit notification, which outlives the request context.
	NotifyTimeout time.Duration
	Location                *time.Location
	Now                     func() time.Time
}

type weekdayTemplateReader interface {
	ListActiveByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*model.AvailabilityTemplate, error)
}

// BookingService is the only writer of bookings. Admission of a window for one doctor and
// date is serialized by a transaction-scoped advisory lock, and an exclusion constraint on
// the bookings table backs it up.
type BookingService struct {
	tx        transactor
	slots     slotReader
	templates weekdayTemplateReader
	bookings  bookingStore
	cache     availabilityCache
	notifier  BookingNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BookingConfig
}

func NewBookingService(
	tx transactor,
	slots slotReader,
	templates weekdayTemplateReader,
	bookings bookingStore,
	cache availabilityCache,
	notifier BookingNotifier,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg BookingConfig,
) *BookingService {
	if cache == nil {
		cache = nopCache{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialStatus == "" {
		cfg.InitialStatus = model.BookingStatusPending
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 50 * time.Millisecond
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &BookingService{
		tx:        tx,
		slots:     slots,
		templates: templates,
		bookings:  bookings,
		cache:     cache,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// CheckAvailability runs the admission rules without writing anything.
func (s *BookingService) CheckAvailability(ctx context.Context, req BookingRequest) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("check", out, err, started) }()

	if o := s.validateRequest(req, false); o != nil {
		return o, nil
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		o, err := s.evaluate(ctx, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// CreateBooking admits the window and stores a booking in the configured initial status.
// Rejections come back as an Outcome; the error is reserved for infrastructure failures.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (out *Outcome, err error) {
	started := time.Now()
	defer func() { s.observe("create", out, err, started) }()

	if o := s.validateRequest(req, true); o != nil {
		return o, nil
	}

	if req.IdempotencyKey != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("get booking by idempotency key: %w", err)
		}
		if existing != nil {
			return replayed(existing), nil
		}
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.admit(ctx, req, &out)
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrBookingOverlap):
		out, err = s.conflictAfterRace(ctx, req)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
		existing, gerr := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if gerr != nil {
			return nil, fmt.Errorf("get booking by idempotency key: %w", gerr)
		}
		if existing == nil {
			return nil, err
		}
		return replayed(existing), nil
	default:
		return nil, err
	}

	if out.Kind == OutcomeCreated && !out.Replayed {
		s.afterCommit(ctx, out.Booking)
	}

	return out, nil
}

// UpdateStatus moves a booking to another status, e.g. confirmed or cancelled, and drops the
// cached availability of its doctor and date. Reactivating a booking whose window was taken
// in the meantime is an ErrConflict.
func (s *BookingService) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) (*model.Booking, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown booking status %q", ErrValidation, status)
	}

	var booking *model.Booking
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if b == nil {
				return repository.ErrNotFound
			}
			if err := s.bookings.LockDoctorDate(ctx, b.DoctorID, b.Date); err != nil {
				return err
			}
			if err := s.bookings.UpdateStatus(ctx, id, status); err != nil {
				return err
			}
			b.Status = status
			booking = b
			return nil
		})
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: booking %d", ErrNotFound, id)
	case errors.Is(err, repository.ErrBookingOverlap):
		return nil, fmt.Errorf("%w: booking %d", ErrConflict, id)
	case err != nil:
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.cache.Invalidate(ictx, booking.DoctorID, booking.Date); err != nil {
		s.logger.Warn("Failed to invalidate availability cache",
			zap.String("doctor_id", booking.DoctorID.String()),
			zap.Error(err))
	}

	s.logger.Info("Booking status updated",
		zap.Int64("booking_id", booking.ID),
		zap.String("doctor_id", booking.DoctorID.String()),
		zap.String("date", booking.Date.Format(model.DateLayout)),
		zap.String("status", string(status)))

	return booking, nil
}

// admit runs inside the transaction. Store errors are returned as is so the transaction
// rolls back; they are translated once it is over.
func (s *BookingService) admit(ctx context.Context, req BookingRequest, out **Outcome) error {
	if err := s.bookings.LockDoctorDate(ctx, req.DoctorID, req.Date); err != nil {
		return err
	}

	// A caller retrying with the same key may have committed while we waited on the lock.
	if req.IdempotencyKey != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			*out = replayed(existing)
			return nil
		}
	}

	o, err := s.evaluate(ctx, req)
	if err != nil {
		return err
	}
	if o.Kind != OutcomeFits {
		*out = o
		return nil
	}

	booking := &model.Booking{
		DoctorID:   req.DoctorID,
		HospitalID: req.HospitalID,
		Date:       model.NormalizeDate(req.Date),
		Start:      req.Start,
		End:        req.End,
		Status:     s.cfg.InitialStatus,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		booking.IdempotencyKey = &key
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return err
	}

	*out = &Outcome{Kind: OutcomeCreated, Booking: booking}
	return nil
}

// evaluate applies the capacity and conflict rules to an already validated request.
func (s *BookingService) evaluate(ctx context.Context, req BookingRequest) (*Outcome, error) {
	date := model.NormalizeDate(req.Date)
	window := req.Window()

	inside, err := s.withinAvailability(ctx, req.DoctorID, date, window)
	if err != nil {
		return nil, err
	}
	if !inside {
		return &Outcome{
			Kind:   OutcomeCapacity,
			Reason: fmt.Sprintf("%s on %s is not inside the doctor's availability", window, date.Format(model.DateLayout)),
		}, nil
	}

	active, err := s.bookings.ListActiveByDoctorDate(ctx, req.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	if conflicts := overlapping(active, window); len(conflicts) > 0 {
		return &Outcome{
			Kind:      OutcomeConflict,
			Reason:    fmt.Sprintf("%s overlaps %d active booking(s)", window, len(conflicts)),
			Conflicts: conflicts,
		}, nil
	}

	return &Outcome{Kind: OutcomeFits}, nil
}

func (s *BookingService) withinAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, window model.Window) (bool, error) {
	if s.cfg.AllowManualAvailability {
		templates, err := s.templates.ListActiveByDoctorWeekday(ctx, doctorID, int(date.Weekday()))
		if err != nil {
			return false, fmt.Errorf("list templates: %w", err)
		}
		for _, t := range templates {
			if !t.Expired(date) && t.Window().Contains(window) {
				return true, nil
			}
		}
		return false, nil
	}

	slots, err := s.slots.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return false, fmt.Errorf("list slots: %w", err)
	}
	for _, slot := range slots {
		if slot.Window().Contains(window) {
			return true, nil
		}
	}
	return false, nil
}

func (s *BookingService) validateRequest(req BookingRequest, create bool) *Outcome {
	if err := s.validator.Struct(req); err != nil {
		return &Outcome{Kind: OutcomeValidation, Reason: validationMessage(err)}
	}
	if create && req.HospitalID == uuid.Nil {
		return &Outcome{Kind: OutcomeValidation, Reason: "HospitalID is required"}
	}

	if model.At(model.NormalizeDate(req.Date), req.Start, s.cfg.Location).Before(s.cfg.Now()) {
		return &Outcome{Kind: OutcomeValidation, Reason: "window starts in the past"}
	}
	return nil
}

// conflictAfterRace builds the conflict outcome when the exclusion constraint fired.
func (s *BookingService) conflictAfterRace(ctx context.Context, req BookingRequest) (*Outcome, error) {
	active, err := s.bookings.ListActiveByDoctorDate(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}

	s.logger.Warn("Booking rejected by exclusion constraint",
		zap.String("doctor_id", req.DoctorID.String()),
		zap.String("date", req.Date.Format(model.DateLayout)),
		zap.Stringer("window", req.Window()))

	return &Outcome{
		Kind:      OutcomeConflict,
		Reason:    fmt.Sprintf("%s overlaps an active booking", req.Window()),
		Conflicts: overlapping(active, req.Window()),
	}, nil
}

func (s *BookingService) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryBaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && base.IsTransient(err) {
			s.metrics.IncBookingRetry()
			s.logger.Debug("Transient store error, retrying booking", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// afterCommit runs once the booking is durable, so a caller that went away must not cut it short.
func (s *BookingService) afterCommit(ctx context.Context, booking *model.Booking) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ctx, booking.DoctorID, booking.Date); err != nil {
		s.logger.Warn("Failed to invalidate availability cache",
			zap.String("doctor_id", booking.DoctorID.String()),
			zap.Error(err))
	}

	if err := s.notifier.BookingCreated(ctx, booking); err != nil {
		s.logger.Warn("Failed to send booking notification",
			zap.Int64("booking_id", booking.ID),
			zap.Error(err))
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.String("doctor_id", booking.DoctorID.String()),
		zap.String("hospital_id", booking.HospitalID.String()),
		zap.String("date", booking.Date.Format(model.DateLayout)),
		zap.Stringer("window", booking.Window()),
		zap.String("status", string(booking.Status)))
}

func (s *BookingService) observe(operation string, out *Outcome, err error, started time.Time) {
	outcome := "error"
	if err == nil && out != nil {
		outcome = string(out.Kind)
	}
	s.metrics.ObserveBooking(operation, outcome, time.Since(started))
}

func replayed(existing *model.Booking) *Outcome {
	return &Outcome{Kind: OutcomeCreated, Booking: existing, Replayed: true}
}

func overlapping(bookings []*model.Booking, window model.Window) []*model.Booking {
	var conflicts []*model.Booking
	for _, b := range bookings {
		if b.IsActive() && b.Window().Overlaps(window) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}
