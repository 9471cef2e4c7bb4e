package repository

import (
	"fmt"
	"strings"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// statsWhere renders the WHERE clause shared by the statistics queries.
func statsWhere(filter model.StatsFilter, dateColumn string) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, model.NormalizeDate(filter.From))
		conds = append(conds, fmt.Sprintf("%s >= $%d", dateColumn, len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, model.NormalizeDate(filter.To))
		conds = append(conds, fmt.Sprintf("%s <= $%d", dateColumn, len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
