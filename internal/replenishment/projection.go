package replenishment

import "time"

// Projection horizon bounds, in days.
const (
	DefaultProjectionDays = 7
	MinProjectionDays     = 1
	MaxProjectionDays     = 365
)

// ProjectionItem forecasts one ledger entry under constant daily usage.
type ProjectionItem struct {
	EntryID          int64     `json:"entry_id"`
	ProductID        int64     `json:"product_id"`
	ProductName      string    `json:"product_name"`
	CurrentStock     float64   `json:"current_stock"`
	DailyUsage       float64   `json:"daily_usage"`
	ReorderPoint     float64   `json:"reorder_point"`
	AutoOrderEnabled bool      `json:"auto_order_enabled"`
	AfterDays        int       `json:"after_days"`
	ProjectedStock   float64   `json:"projected_stock"`
	HitsReorder      bool      `json:"hits_reorder"`
	DaysUntilReorder *int      `json:"days_until_reorder"`
	Trajectory       []float64 `json:"trajectory"`
}

// ClampDays bounds a requested horizon. Zero selects the default.
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultProjectionDays
	case days < MinProjectionDays:
		return MinProjectionDays
	case days > MaxProjectionDays:
		return MaxProjectionDays
	}
	return days
}

// Project forecasts entries over days without touching storage. DaysUntilReorder is nil
// when the reorder point is not reached within the horizon.
func Project(entries []LedgerEntry, days int) []ProjectionItem {
	days = ClampDays(days)
	items := make([]ProjectionItem, 0, len(entries))
	var epoch time.Time
	for _, entry := range entries {
		item := ProjectionItem{
			EntryID:          entry.ID,
			ProductID:        entry.ProductID,
			ProductName:      entry.ProductName,
			CurrentStock:     entry.CurrentStock,
			DailyUsage:       entry.DailyUsage,
			ReorderPoint:     entry.ReorderPoint,
			AutoOrderEnabled: entry.AutoOrderEnabled,
			AfterDays:        days,
			Trajectory:       make([]float64, 0, days),
		}
		if entry.CurrentStock <= entry.ReorderPoint {
			zero := 0
			item.DaysUntilReorder = &zero
		}
		cur := entry
		for d := 1; d <= days; d++ {
			cur = ApplyConsumption(cur, epoch)
			item.Trajectory = append(item.Trajectory, cur.CurrentStock)
			if item.DaysUntilReorder == nil && cur.CurrentStock <= entry.ReorderPoint {
				day := d
				item.DaysUntilReorder = &day
			}
		}
		item.ProjectedStock = cur.CurrentStock
		item.HitsReorder = item.ProjectedStock <= entry.ReorderPoint
		items = append(items, item)
	}
	return items
}
