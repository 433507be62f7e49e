// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate statistics queries
// behind the notification stats endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/domain"
)

// DeviceBreakdown is the per-device-class slice of the registry statistics,
// computed over active tokens only.
type DeviceBreakdown struct {
	DeviceType       string  `json:"device_type"`
	Count            int64   `json:"count"`
	AvgNotifications float64 `json:"avg_notifications"`
}

// TokenStats is the aggregate view of the token registry.
type TokenStats struct {
	TotalTokens              int64             `json:"total_tokens"`
	ActiveTokens             int64             `json:"active_tokens"`
	TotalNotifications       int64             `json:"total_notifications"`
	AvgNotificationsPerToken float64           `json:"avg_notifications_per_token"`
	DeviceBreakdown          []DeviceBreakdown `json:"device_breakdown"`
	RecentActiveTokens       int64             `json:"recent_active_tokens"`
}

// recentWindow is the lookback used for the "recently active" count.
const recentWindow = 7 * 24 * time.Hour

// AggregateTokenStats computes registry-wide statistics: totals, the
// active subset, cumulative and average notification counts, a per-device
// breakdown of active tokens (largest class first), and the number of
// tokens used within the last seven days.
func AggregateTokenStats(ctx context.Context, db *gorm.DB) (*TokenStats, error) {
	var stats TokenStats

	type totalsRow struct {
		Total  int64
		Active int64
		Sent   int64
		Avg    float64
	}
	var totals totalsRow
	err := db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Select(
			"COUNT(*) AS total, " +
				"COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active, " +
				"COALESCE(SUM(notification_count), 0) AS sent, " +
				"COALESCE(AVG(notification_count), 0) AS avg").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	stats.TotalTokens = totals.Total
	stats.ActiveTokens = totals.Active
	stats.TotalNotifications = totals.Sent
	stats.AvgNotificationsPerToken = totals.Avg

	err = db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Select("device_type, COUNT(*) AS count, COALESCE(AVG(notification_count), 0) AS avg_notifications").
		Where("is_active = ?", true).
		Group("device_type").
		Order("count DESC").
		Scan(&stats.DeviceBreakdown).Error
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-recentWindow)
	err = db.WithContext(ctx).
		Model(&domain.PushToken{}).
		Where("is_active = ? AND last_used >= ?", true, since).
		Count(&stats.RecentActiveTokens).Error
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
