package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/config"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/notify"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository/base"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/service"
)

// App holds the wired services of one process.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Pool   *pgxpool.Pool

	Metrics      *service.MetricsService
	Generator    *service.GeneratorService
	Templates    *service.TemplateService
	Availability *service.AvailabilityService
	Bookings     *service.BookingService
	Stats        *service.StatsService

	cache *repository.AvailabilityCache
}

// New opens the pool and the optional Redis and Telegram integrations, then wires services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, err
	}

	cache := repository.NewAvailabilityCache(newRedisClient(ctx, cfg.Redis, logger), cfg.Redis.CacheTTL)

	var notifier service.BookingNotifier = notify.Nop{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("Telegram notifications disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	tx := base.NewTransactor(pool)

	templateRepo := repository.NewTemplateRepository(pool, logger)
	slotRepo := repository.NewSlotRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)

	generator := service.NewGeneratorService(templateRepo, slotRepo, cache, metrics, logger, service.GeneratorConfig{
		HorizonDays:   cfg.Generation.HorizonDays,
		Workers:       cfg.Generation.Workers,
		DoctorTimeout: cfg.Generation.DoctorTimeout,
		Location:      cfg.Location,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Metrics: metrics,

		Generator: generator,
		Templates: service.NewTemplateService(tx, templateRepo, generator, validate, logger, service.TemplateConfig{
			Location: cfg.Location,
		}),
		Availability: service.NewAvailabilityService(slotRepo, bookingRepo, cache, metrics, validate, logger, service.AvailabilityConfig{
			Location: cfg.Location,
		}),
		Bookings: service.NewBookingService(tx, slotRepo, templateRepo, bookingRepo, cache, notifier, metrics, validate, logger, service.BookingConfig{
			InitialStatus:           cfg.Booking.InitialStatus,
			AllowManualAvailability: cfg.Booking.AllowManualAvailability,
			MaxRetries:              uint64(cfg.Booking.MaxRetries),
			RetryBaseDelay:          cfg.Booking.RetryBaseDelay,
			NotifyTimeout:           cfg.Booking.NotifyTimeout,
			Location:                cfg.Location,
		}),
		Stats: service.NewStatsService(bookingRepo, slotRepo, logger),

		cache: cache,
	}, nil
}

// Close releases Redis and the pool.
func (a *App) Close() {
	if err := a.cache.Close(); err != nil {
		a.Logger.Warn("Failed to close redis client", zap.Error(err))
	}
	a.Pool.Close()
}

// newRedisClient returns nil when the cache is not configured or unreachable.
func newRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Availability cache disabled",
			zap.String("addr", cfg.Addr),
			zap.Error(fmt.Errorf("redis ping: %w", err)))
		_ = client.Close()
		return nil
	}

	return client
}
