package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
)

// TemplateRequest carries the editable fields of a weekly template. A nil IsActive means active.
type TemplateRequest struct {
	DoctorID  uuid.UUID       `validate:"required"`
	Weekday   int             `validate:"gte=0,lte=6"`
	Start     model.TimeOfDay `validate:"gte=0,lte=1440"`
	End       model.TimeOfDay `validate:"gte=0,lte=1440,gtfield=Start"`
	ExpiresOn *time.Time
	IsActive  *bool
}

type TemplateConfig struct {
	Location *time.Location
	Now      func() time.Time
}

// TemplateService manages doctors' weekly templates and keeps their calendars generated.
type TemplateService struct {
	tx        transactor
	templates templateStore
	generator availabilityGenerator
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TemplateConfig
}

func NewTemplateService(
	tx transactor,
	templates templateStore,
	generator availabilityGenerator,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TemplateConfig,
) *TemplateService {
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

	return &TemplateService{
		tx:        tx,
		templates: templates,
		generator: generator,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create stores a template and generates the doctor's slots for it.
func (s *TemplateService) Create(ctx context.Context, req TemplateRequest) (*model.AvailabilityTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	t := &model.AvailabilityTemplate{
		DoctorID:  req.DoctorID,
		Weekday:   req.Weekday,
		Start:     req.Start,
		End:       req.End,
		IsActive:  req.IsActive == nil || *req.IsActive,
		ExpiresOn: req.ExpiresOn,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.templates.LockDoctorWeekday(ctx, t.DoctorID, t.Weekday); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, t); err != nil {
			return err
		}
		return s.templates.Create(ctx, t)
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.logger.Info("Availability template created",
		zap.Int64("template_id", t.ID),
		zap.String("doctor_id", t.DoctorID.String()),
		zap.Int("weekday", t.Weekday),
		zap.Stringer("window", t.Window()))

	s.regenerate(ctx, t.DoctorID)

	return t, nil
}

// Update replaces the template's fields and regenerates the doctor's slots. Slots that were
// already generated from the old version stay.
func (s *TemplateService) Update(ctx context.Context, id int64, req TemplateRequest) (*model.AvailabilityTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}

	var updated *model.AvailabilityTemplate
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.templates.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil || current.DoctorID != req.DoctorID {
			return ErrNotFound
		}

		// fixed order so two edits moving templates between the same weekdays cannot deadlock
		first, second := current.Weekday, req.Weekday
		if first > second {
			first, second = second, first
		}
		if err := s.templates.LockDoctorWeekday(ctx, req.DoctorID, first); err != nil {
			return err
		}
		if second != first {
			if err := s.templates.LockDoctorWeekday(ctx, req.DoctorID, second); err != nil {
				return err
			}
		}

		current.Weekday = req.Weekday
		current.Start = req.Start
		current.End = req.End
		current.ExpiresOn = req.ExpiresOn
		if req.IsActive != nil {
			current.IsActive = *req.IsActive
		}

		if err := s.checkOverlap(ctx, current); err != nil {
			return err
		}
		if err := s.templates.Update(ctx, current); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update template: %w", err)
	}

	s.logger.Info("Availability template updated",
		zap.Int64("template_id", updated.ID),
		zap.String("doctor_id", updated.DoctorID.String()),
		zap.Int("weekday", updated.Weekday),
		zap.Stringer("window", updated.Window()),
		zap.Bool("is_active", updated.IsActive))

	s.regenerate(ctx, updated.DoctorID)

	return updated, nil
}

func (s *TemplateService) Get(ctx context.Context, doctorID uuid.UUID, id int64) (*model.AvailabilityTemplate, error) {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if t == nil || t.DoctorID != doctorID {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *TemplateService) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	templates, err := s.templates.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Deactivate stops the template from producing slots. Existing slots stay.
func (s *TemplateService) Deactivate(ctx context.Context, doctorID uuid.UUID, id int64) error {
	if _, err := s.Get(ctx, doctorID, id); err != nil {
		return err
	}
	if err := s.templates.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deactivate template: %w", err)
	}

	s.logger.Info("Availability template deactivated",
		zap.Int64("template_id", id),
		zap.String("doctor_id", doctorID.String()))
	return nil
}

// Delete removes the template. Slots generated from it become manually managed.
func (s *TemplateService) Delete(ctx context.Context, doctorID uuid.UUID, id int64) error {
	if _, err := s.Get(ctx, doctorID, id); err != nil {
		return err
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete template: %w", err)
	}

	s.logger.Info("Availability template deleted",
		zap.Int64("template_id", id),
		zap.String("doctor_id", doctorID.String()))
	return nil
}

// checkOverlap rejects t when another active, unexpired template of the same doctor and
// weekday overlaps it. The caller holds the weekday lock.
func (s *TemplateService) checkOverlap(ctx context.Context, t *model.AvailabilityTemplate) error {
	if !t.IsActive {
		return nil
	}

	siblings, err := s.templates.ListActiveByDoctorWeekday(ctx, t.DoctorID, t.Weekday)
	if err != nil {
		return err
	}

	today := model.DateOf(s.cfg.Now(), s.cfg.Location)
	for _, other := range siblings {
		if other.ID == t.ID || other.Expired(today) {
			continue
		}
		if other.Window().Overlaps(t.Window()) {
			return fmt.Errorf("%w: template %d (%s)", ErrTemplateOverlap, other.ID, other.Window())
		}
	}
	return nil
}

// regenerate refreshes the doctor's calendar. The template is already committed, so a
// failure here is only logged; the next periodic run picks it up.
func (s *TemplateService) regenerate(ctx context.Context, doctorID uuid.UUID) {
	if s.generator == nil {
		return
	}

	summary, err := s.generator.GenerateAvailability(ctx, GenerateRequest{DoctorIDs: []uuid.UUID{doctorID}})
	if err != nil {
		s.logger.Error("On-demand slot generation failed",
			zap.String("doctor_id", doctorID.String()),
			zap.Error(err))
		return
	}
	for _, f := range summary.Failures {
		s.logger.Error("On-demand slot generation failed",
			zap.String("doctor_id", f.DoctorID.String()),
			zap.String("error", f.Error))
	}
}
