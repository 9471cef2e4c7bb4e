package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/service"
)

type availabilityGenerator interface {
	GenerateAvailability(ctx context.Context, req service.GenerateRequest) (*model.GenerationSummary, error)
}

// Scheduler tops up every doctor's slots periodically
type Scheduler struct {
	generator availabilityGenerator
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
}

func NewScheduler(generator availabilityGenerator, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		generator: generator,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs generation once right away and then on every tick.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Starting background scheduler", zap.Duration("interval", s.interval))

	go s.runSlotGenerationTask(ctx)
}

// Stop ends the background task and waits for a running generation to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) runSlotGenerationTask(ctx context.Context) {
	defer close(s.done)

	s.generateSlots(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.generateSlots(ctx)
		case <-s.stopChan:
			s.logger.Info("Slot generation task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Slot generation task cancelled")
			return
		}
	}
}

func (s *Scheduler) generateSlots(ctx context.Context) {
	s.logger.Info("Starting automatic slot generation")

	summary, err := s.generator.GenerateAvailability(ctx, service.GenerateRequest{})
	if err != nil {
		s.logger.Error("Failed to generate slots", zap.Error(err))
		return
	}

	s.logger.Info("Automatic slot generation completed",
		zap.Int("slots_created", summary.SlotsCreated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed_doctors", len(summary.Failures)))
}
