package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// GenerateRequest scopes a generation run. Empty DoctorIDs means every doctor with an
// active template. A zero Now falls back to the service clock.
type GenerateRequest struct {
	DoctorIDs []uuid.UUID
	Now       time.Time
}

// GeneratorConfig governs how far ahead and how wide generation runs.
type GeneratorConfig struct {
	HorizonDays   int
	Workers       int
	DoctorTimeout time.Duration
	Location      *time.Location
	Now           func() time.Time
}

// GeneratorService materializes availability slots from weekly templates.
type GeneratorService struct {
	templates activeTemplateLister
	slots     slotInserter
	cache     availabilityCache
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       GeneratorConfig
}

func NewGeneratorService(
	templates activeTemplateLister,
	slots slotInserter,
	cache availabilityCache,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg GeneratorConfig,
) *GeneratorService {
	if cache == nil {
		cache = nopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 14
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &GeneratorService{
		templates: templates,
		slots:     slots,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// GenerateAvailability tops up slots for [today, today+horizon). Reruns are safe: slots that
// already exist are counted as skipped. A failing doctor lands in Failures and does not stop
// the others; the error return is reserved for the template listing itself.
func (s *GeneratorService) GenerateAvailability(ctx context.Context, req GenerateRequest) (*model.GenerationSummary, error) {
	started := time.Now()

	now := req.Now
	if now.IsZero() {
		now = s.cfg.Now()
	}
	today := model.DateOf(now, s.cfg.Location)

	templates, err := s.templates.ListActive(ctx, req.DoctorIDs)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}

	byDoctor := make(map[uuid.UUID][]*model.AvailabilityTemplate)
	for _, t := range templates {
		byDoctor[t.DoctorID] = append(byDoctor[t.DoctorID], t)
	}

	doctors := make([]uuid.UUID, 0, len(byDoctor))
	for id := range byDoctor {
		doctors = append(doctors, id)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].String() < doctors[j].String() })

	results := make([]model.GenerationSummary, len(doctors))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, doctorID := range doctors {
		g.Go(func() error {
			results[i] = s.generateForDoctor(ctx, doctorID, byDoctor[doctorID], today)
			return nil
		})
	}
	_ = g.Wait()

	summary := &model.GenerationSummary{Failures: []model.DoctorFailure{}}
	var failures error
	for _, r := range results {
		summary.Add(r)
		for _, f := range r.Failures {
			failures = multierr.Append(failures, fmt.Errorf("doctor %s: %s", f.DoctorID, f.Error))
		}
	}

	if failures != nil {
		s.logger.Warn("Slot generation finished with failures",
			zap.Int("failed_doctors", len(summary.Failures)),
			zap.Error(failures))
	}

	s.logger.Info("Slot generation finished",
		zap.String("today", today.Format(model.DateLayout)),
		zap.Int("doctors", len(doctors)),
		zap.Int("templates_processed", summary.TemplatesProcessed),
		zap.Int("templates_expired", summary.TemplatesExpired),
		zap.Int("slots_created", summary.SlotsCreated),
		zap.Int("skipped", summary.Skipped))

	s.metrics.ObserveGeneration(summary, time.Since(started))

	return summary, nil
}

func (s *GeneratorService) generateForDoctor(
	ctx context.Context,
	doctorID uuid.UUID,
	templates []*model.AvailabilityTemplate,
	today time.Time,
) model.GenerationSummary {
	var sum model.GenerationSummary

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DoctorTimeout)
	defer cancel()

	if err := s.expandTemplates(dctx, templates, today, &sum); err != nil {
		s.logger.Error("Slot generation failed for doctor",
			zap.String("doctor_id", doctorID.String()),
			zap.Int("slots_created", sum.SlotsCreated),
			zap.Error(err))
		sum.Failures = append(sum.Failures, model.DoctorFailure{DoctorID: doctorID, Error: err.Error()})
	}

	// partial runs may still have inserted slots
	if sum.SlotsCreated > 0 {
		if err := s.cache.InvalidateDoctor(ctx, doctorID); err != nil {
			s.logger.Warn("Failed to invalidate availability cache",
				zap.String("doctor_id", doctorID.String()),
				zap.Error(err))
		}
	}

	return sum
}

func (s *GeneratorService) expandTemplates(
	ctx context.Context,
	templates []*model.AvailabilityTemplate,
	today time.Time,
	sum *model.GenerationSummary,
) error {
	for _, t := range templates {
		if t.Expired(today) {
			sum.TemplatesExpired++
			continue
		}
		sum.TemplatesProcessed++

		for offset := 0; offset < s.cfg.HorizonDays; offset++ {
			date := today.AddDate(0, 0, offset)
			if int(date.Weekday()) != t.Weekday {
				continue
			}
			if t.Expired(date) {
				break
			}

			if err := ctx.Err(); err != nil {
				return fmt.Errorf("template %d: %w", t.ID, err)
			}

			templateID := t.ID
			slot := &model.AvailabilitySlot{
				DoctorID:   t.DoctorID,
				TemplateID: &templateID,
				Date:       date,
				Start:      t.Start,
				End:        t.End,
			}

			inserted, err := s.slots.InsertIfAbsent(ctx, slot)
			if err != nil {
				return fmt.Errorf("template %d on %s: %w", t.ID, date.Format(model.DateLayout), err)
			}
			if inserted {
				sum.SlotsCreated++
			} else {
				sum.Skipped++
			}
		}
	}
	return nil
}
