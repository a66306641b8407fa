package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// MetricRepo maintains the daily screening aggregate.
type MetricRepo struct {
	DB *sql.DB
}

// NewMetricRepo creates a new MetricRepo.
func NewMetricRepo(db *sql.DB) *MetricRepo {
	return &MetricRepo{DB: db}
}

// riskCountColumn maps a level to its counter column. The column name is interpolated into SQL,
// so only values from this switch may reach the query.
func riskCountColumn(level model.RiskLevel) (string, bool) {
	switch level {
	case model.RiskLow:
		return "risk_low_count", true
	case model.RiskModerate:
		return "risk_mod_count", true
	case model.RiskHigh:
		return "risk_high_count", true
	case model.RiskCrisis:
		return "risk_crisis_count", true
	default:
		return "", false
	}
}

// Increment adds one to the (date, faculty, level) cell, creating the row on first use.
func (r *MetricRepo) Increment(ctx context.Context, key model.DailyMetricKey) error {
	col, ok := riskCountColumn(key.RiskLevel)
	if !ok {
		return fmt.Errorf("invalid risk level: %q", key.RiskLevel)
	}
	query := fmt.Sprintf(`
		INSERT INTO daily_metrics (metric_date, faculty, %[1]s, updated_at)
		VALUES ($1::date, $2, 1, now())
		ON CONFLICT (metric_date, faculty)
		DO UPDATE SET %[1]s = daily_metrics.%[1]s + 1, updated_at = now()
	`, col)
	if _, err := r.DB.ExecContext(ctx, query, key.Date, key.Faculty); err != nil {
		return fmt.Errorf("increment daily metric: %w", err)
	}
	return nil
}
