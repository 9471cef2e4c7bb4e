package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/app"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/config"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "scheduler",
		Short:        "Doctor availability and booking core",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(bookingStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run periodic slot generation and expose metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("timezone", cfg.Timezone),
		zap.Int("horizon_days", cfg.Generation.HorizonDays))

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	scheduler := app.NewScheduler(application.Generator, cfg.Generation.Interval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", application.Metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *app.Migrator) error {
				return m.Run(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *app.Migrator) error {
				return m.Status(ctx)
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *app.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := app.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := app.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	return fn(ctx, migrator)
}

func generateCmd() *cobra.Command {
	var doctors []string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run slot generation once and print the summary",
		Long:  "Run slot generation once for every doctor, or only for the doctors given with --doctor. Meant for an external cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(doctors))
			for _, raw := range doctors {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid --doctor %q: %w", raw, err)
				}
				ids = append(ids, id)
			}
			return runGenerate(cmd.Context(), ids)
		},
	}

	cmd.Flags().StringSliceVar(&doctors, "doctor", nil, "doctor id to generate for (repeatable)")
	return cmd
}

func runGenerate(ctx context.Context, doctorIDs []uuid.UUID) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	summary, err := application.Generator.GenerateAvailability(ctx, service.GenerateRequest{DoctorIDs: doctorIDs})
	if err != nil {
		return err
	}

	return printJSON(summary)
}

func statsCmd() *cobra.Command {
	var doctor, from, to string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print booking statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.StatsFilter
			if doctor != "" {
				id, err := uuid.Parse(doctor)
				if err != nil {
					return fmt.Errorf("invalid --doctor %q: %w", doctor, err)
				}
				filter.DoctorID = &id
			}
			if from != "" {
				d, err := model.ParseDate(from)
				if err != nil {
					return err
				}
				filter.From = d
			}
			if to != "" {
				d, err := model.ParseDate(to)
				if err != nil {
					return err
				}
				filter.To = d
			}
			return runStats(cmd.Context(), filter)
		},
	}

	cmd.Flags().StringVar(&doctor, "doctor", "", "only this doctor")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	return cmd
}

func runStats(ctx context.Context, filter model.StatsFilter) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Stats.Stats(ctx, filter)
	if err != nil {
		return err
	}

	return printJSON(stats)
}

func bookingStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "booking-status <id> <status>",
		Short: "Move a booking to pending, confirmed, cancelled or completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid booking id %q: %w", args[0], err)
			}
			return runBookingStatus(cmd.Context(), id, model.BookingStatus(strings.ToLower(args[1])))
		},
	}
}

func runBookingStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	booking, err := application.Bookings.UpdateStatus(ctx, id, status)
	if err != nil {
		return err
	}

	return printJSON(booking)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
