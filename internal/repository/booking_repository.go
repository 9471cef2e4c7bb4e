package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository/base"
)

const bookingColumns = `id, doctor_id, hospital_id, booking_date, start_minute, end_minute, status, idempotency_key, created_at, updated_at`

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db base.DB) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(db)}
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b          model.Booking
		start, end int
	)
	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.HospitalID,
		&b.Date,
		&start,
		&end,
		&b.Status,
		&b.IdempotencyKey,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Start = model.TimeOfDay(start)
	b.End = model.TimeOfDay(end)
	return &b, nil
}

// Create inserts a booking. An overlap with another active booking of the doctor is
// reported as ErrBookingOverlap, a reused idempotency key as ErrDuplicateIdempotencyKey.
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (doctor_id, hospital_id, booking_date, start_minute, end_minute, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		booking.DoctorID,
		booking.HospitalID,
		model.NormalizeDate(booking.Date),
		int(booking.Start),
		int(booking.End),
		string(booking.Status),
		booking.IdempotencyKey,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		switch {
		case base.IsExclusionViolation(err):
			return ErrBookingOverlap
		case base.IsUniqueViolation(err):
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID returns nil when the booking does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return booking, nil
}

// GetByIdempotencyKey returns nil when no booking carries the key
func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE idempotency_key = $1`

	booking, err := scanBooking(r.QueryRow(ctx, query, key))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by idempotency key: %w", err)
	}

	return booking, nil
}

// ListActiveByDoctorDate returns pending and confirmed bookings of the doctor on a date
func (r *BookingRepository) ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE doctor_id = $1 AND booking_date = $2 AND status IN ('pending', 'confirmed')
		ORDER BY start_minute
	`

	rows, err := r.Query(ctx, query, doctorID, model.NormalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("get active bookings by doctor and date: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get active bookings by doctor and date: %w", err)
	}

	return bookings, nil
}

// UpdateStatus sets the status of one booking. Reactivating into a taken window fails with ErrBookingOverlap.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	affected, err := r.ExecAffected(ctx, `UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		if base.IsExclusionViolation(err) {
			return ErrBookingOverlap
		}
		return fmt.Errorf("update booking status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LockDoctorDate serializes booking admission for one doctor and date until the transaction ends.
func (r *BookingRepository) LockDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	return r.AdvisoryXactLock(ctx, fmt.Sprintf("booking:%s:%s", doctorID, model.NormalizeDate(date).Format(model.DateLayout)))
}

// CountByStatus groups bookings matching the filter by status
func (r *BookingRepository) CountByStatus(ctx context.Context, filter model.StatsFilter) (map[model.BookingStatus]int, error) {
	where, args := statsWhere(filter, "booking_date")
	query := `SELECT status, COUNT(*) FROM bookings` + where + ` GROUP BY status`

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count bookings by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.BookingStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan booking status count: %w", err)
		}
		counts[model.BookingStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count bookings by status: %w", err)
	}

	return counts, nil
}

// CountByDoctor groups bookings matching the filter by doctor
func (r *BookingRepository) CountByDoctor(ctx context.Context, filter model.StatsFilter) (map[uuid.UUID]int, error) {
	where, args := statsWhere(filter, "booking_date")
	query := `SELECT doctor_id, COUNT(*) FROM bookings` + where + ` GROUP BY doctor_id`

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count bookings by doctor: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			doctorID uuid.UUID
			count    int
		)
		if err := rows.Scan(&doctorID, &count); err != nil {
			return nil, fmt.Errorf("scan booking doctor count: %w", err)
		}
		counts[doctorID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count bookings by doctor: %w", err)
	}

	return counts, nil
}

// BookedMinutes sums the length of bookings that consumed doctor time (everything but cancelled)
func (r *BookingRepository) BookedMinutes(ctx context.Context, filter model.StatsFilter) (int64, error) {
	where, args := statsWhere(filter, "booking_date")
	if where == "" {
		where = " WHERE status <> 'cancelled'"
	} else {
		where += " AND status <> 'cancelled'"
	}
	query := `SELECT COALESCE(SUM(end_minute - start_minute), 0) FROM bookings` + where

	var minutes int64
	if err := r.QueryRow(ctx, query, args...).Scan(&minutes); err != nil {
		return 0, fmt.Errorf("sum booked minutes: %w", err)
	}
	return minutes, nil
}
