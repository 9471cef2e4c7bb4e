package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository/base"
)

const templateColumns = `id, doctor_id, weekday, start_minute, end_minute, is_active, expires_on, created_at, updated_at`

// TemplateRepository stores doctors' recurring weekly availability templates
type TemplateRepository struct {
	*base.Repository
	logger *zap.Logger
}

// NewTemplateRepository creates the repository
func NewTemplateRepository(db base.DB, logger *zap.Logger) *TemplateRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateRepository{
		Repository: base.NewRepository(db),
		logger:     logger,
	}
}

func scanTemplate(row pgx.Row) (*model.AvailabilityTemplate, error) {
	var (
		t          model.AvailabilityTemplate
		start, end int
	)
	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&t.Weekday,
		&start,
		&end,
		&t.IsActive,
		&t.ExpiresOn,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Start = model.TimeOfDay(start)
	t.End = model.TimeOfDay(end)
	return &t, nil
}

func (r *TemplateRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.AvailabilityTemplate, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var templates []*model.AvailabilityTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan availability template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return templates, nil
}

// Create inserts a new template
func (r *TemplateRepository) Create(ctx context.Context, t *model.AvailabilityTemplate) error {
	query := `
		INSERT INTO availability_templates (doctor_id, weekday, start_minute, end_minute, is_active, expires_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		t.DoctorID,
		t.Weekday,
		int(t.Start),
		int(t.End),
		t.IsActive,
		expiresOnParam(t.ExpiresOn),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert availability template",
			zap.String("doctor_id", t.DoctorID.String()),
			zap.Int("weekday", t.Weekday),
			zap.Error(err))
		return fmt.Errorf("create availability template: %w", err)
	}

	r.logger.Debug("Availability template inserted",
		zap.Int64("template_id", t.ID),
		zap.String("doctor_id", t.DoctorID.String()),
		zap.Int("weekday", t.Weekday),
		zap.Stringer("window", t.Window()))

	return nil
}

// GetByID returns nil when the template does not exist
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilityTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM availability_templates WHERE id = $1`

	t, err := scanTemplate(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability template by id: %w", err)
	}

	return t, nil
}

// ListByDoctor returns every template of the doctor, active or not
func (r *TemplateRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM availability_templates
		WHERE doctor_id = $1
		ORDER BY weekday, start_minute
	`
	return r.list(ctx, "list availability templates by doctor", query, doctorID)
}

// ListActive returns active templates of the given doctors, or of every doctor when doctorIDs is empty
func (r *TemplateRepository) ListActive(ctx context.Context, doctorIDs []uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	if len(doctorIDs) == 0 {
		query := `
			SELECT ` + templateColumns + `
			FROM availability_templates
			WHERE is_active = true
			ORDER BY doctor_id, weekday, start_minute
		`
		return r.list(ctx, "list active availability templates", query)
	}

	ids := make([]string, 0, len(doctorIDs))
	for _, id := range doctorIDs {
		ids = append(ids, id.String())
	}

	query := `
		SELECT ` + templateColumns + `
		FROM availability_templates
		WHERE is_active = true AND doctor_id = ANY($1::uuid[])
		ORDER BY doctor_id, weekday, start_minute
	`
	return r.list(ctx, "list active availability templates", query, ids)
}

// ListActiveByDoctorWeekday returns the doctor's active templates for one weekday
func (r *TemplateRepository) ListActiveByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*model.AvailabilityTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM availability_templates
		WHERE doctor_id = $1 AND weekday = $2 AND is_active = true
		ORDER BY start_minute
	`
	return r.list(ctx, "list active availability templates by weekday", query, doctorID, weekday)
}

// Update overwrites the mutable fields of a template
func (r *TemplateRepository) Update(ctx context.Context, t *model.AvailabilityTemplate) error {
	query := `
		UPDATE availability_templates
		SET weekday = $2, start_minute = $3, end_minute = $4, is_active = $5, expires_on = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		t.ID,
		t.Weekday,
		int(t.Start),
		int(t.End),
		t.IsActive,
		expiresOnParam(t.ExpiresOn),
	).Scan(&t.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update availability template: %w", err)
	}

	return nil
}

// Deactivate stops the template from producing new slots
func (r *TemplateRepository) Deactivate(ctx context.Context, id int64) error {
	affected, err := r.ExecAffected(ctx, `UPDATE availability_templates SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate availability template: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the template. Slots generated from it stay, detached (ON DELETE SET NULL).
func (r *TemplateRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM availability_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability template: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LockDoctorWeekday serializes template writes for one doctor and weekday until the transaction ends.
func (r *TemplateRepository) LockDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) error {
	return r.AdvisoryXactLock(ctx, fmt.Sprintf("template:%s:%d", doctorID, weekday))
}

// expiresOnParam keeps DATE parameters free of a time-of-day component.
func expiresOnParam(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := model.NormalizeDate(*t)
	return &d
}
