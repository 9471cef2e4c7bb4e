package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// StatsService rolls bookings and open slot time up into read-only statistics.
type StatsService struct {
	bookings bookingStatsReader
	slots    openMinutesReader
	logger   *zap.Logger
}

func NewStatsService(bookings bookingStatsReader, slots openMinutesReader, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{bookings: bookings, slots: slots, logger: logger}
}

// Stats aggregates over the filter. Utilization is booked minutes over open slot minutes,
// 0 when nothing was open.
func (s *StatsService) Stats(ctx context.Context, filter model.StatsFilter) (*model.BookingStats, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrValidation)
	}

	var (
		byStatus map[model.BookingStatus]int
		byDoctor map[uuid.UUID]int
		booked   int64
		open     int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byStatus, err = s.bookings.CountByStatus(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		byDoctor, err = s.bookings.CountByDoctor(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		booked, err = s.bookings.BookedMinutes(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		open, err = s.slots.OpenMinutes(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("booking stats: %w", err)
	}

	stats := &model.BookingStats{
		ByStatus:      byStatus,
		ByDoctor:      byDoctor,
		BookedMinutes: booked,
		OpenMinutes:   open,
	}
	if stats.ByStatus == nil {
		stats.ByStatus = map[model.BookingStatus]int{}
	}
	if stats.ByDoctor == nil {
		stats.ByDoctor = map[uuid.UUID]int{}
	}
	for _, n := range stats.ByStatus {
		stats.Total += n
	}
	if open > 0 {
		stats.Utilization = float64(booked) / float64(open)
	}

	s.logger.Debug("Booking stats computed",
		zap.Int("total", stats.Total),
		zap.Int64("booked_minutes", booked),
		zap.Int64("open_minutes", open))

	return stats, nil
}
