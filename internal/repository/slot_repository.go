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

const slotColumns = `id, doctor_id, template_id, slot_date, start_minute, end_minute, created_at, updated_at`

// SlotRepository stores materialized availability slots
type SlotRepository struct {
	*base.Repository
}

func NewSlotRepository(db base.DB) *SlotRepository {
	return &SlotRepository{Repository: base.NewRepository(db)}
}

func scanSlot(row pgx.Row) (*model.AvailabilitySlot, error) {
	var (
		s          model.AvailabilitySlot
		start, end int
	)
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.TemplateID,
		&s.Date,
		&start,
		&end,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Start = model.TimeOfDay(start)
	s.End = model.TimeOfDay(end)
	return &s, nil
}

// InsertIfAbsent creates the slot unless one with the same (doctor, date, start, end) exists.
// It reports whether a row was inserted; an existing row is left untouched.
func (r *SlotRepository) InsertIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error) {
	query := `
		INSERT INTO availability_slots (doctor_id, template_id, slot_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, slot_date, start_minute, end_minute) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		slot.DoctorID,
		slot.TemplateID,
		model.NormalizeDate(slot.Date),
		int(slot.Start),
		int(slot.End),
	).Scan(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert availability slot: %w", err)
	}

	return true, nil
}

// CreateManual inserts a slot that is not tied to a template
func (r *SlotRepository) CreateManual(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (doctor_id, template_id, slot_date, start_minute, end_minute)
		VALUES ($1, NULL, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		slot.DoctorID,
		model.NormalizeDate(slot.Date),
		int(slot.Start),
		int(slot.End),
	).Scan(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if base.IsUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("create manual slot: %w", err)
	}
	slot.TemplateID = nil

	return nil
}

// GetByID returns nil when the slot does not exist
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	slot, err := scanSlot(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get slot by id: %w", err)
	}

	return slot, nil
}

// ListByDoctorDate returns the doctor's slots on one date ordered by start
func (r *SlotRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_minute, end_minute
	`

	rows, err := r.Query(ctx, query, doctorID, model.NormalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("get slots by doctor and date: %w", err)
	}
	defer rows.Close()

	var slots []*model.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get slots by doctor and date: %w", err)
	}

	return slots, nil
}

// Update moves a slot to a new date/time range and detaches it from its template
func (r *SlotRepository) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		UPDATE availability_slots
		SET slot_date = $2, start_minute = $3, end_minute = $4, template_id = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		slot.ID,
		model.NormalizeDate(slot.Date),
		int(slot.Start),
		int(slot.End),
	).Scan(&slot.UpdatedAt)
	if err != nil {
		switch {
		case base.IsNotFound(err):
			return ErrNotFound
		case base.IsUniqueViolation(err):
			return ErrDuplicateSlot
		}
		return fmt.Errorf("update slot: %w", err)
	}
	slot.TemplateID = nil

	return nil
}

// Delete removes a slot
func (r *SlotRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// OpenMinutes sums the length of all slots matching the filter
func (r *SlotRepository) OpenMinutes(ctx context.Context, filter model.StatsFilter) (int64, error) {
	where, args := statsWhere(filter, "slot_date")
	query := `SELECT COALESCE(SUM(end_minute - start_minute), 0) FROM availability_slots` + where

	var minutes int64
	if err := r.QueryRow(ctx, query, args...).Scan(&minutes); err != nil {
		return 0, fmt.Errorf("sum open slot minutes: %w", err)
	}
	return minutes, nil
}
