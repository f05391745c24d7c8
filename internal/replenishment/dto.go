package replenishment

type upsertInventoryRequest struct {
	ProductID        int64   `json:"product_id" validate:"required,gt=0"`
	CurrentStock     float64 `json:"current_stock" validate:"gte=0"`
	DailyUsage       float64 `json:"daily_usage" validate:"gte=0"`
	ReorderPoint     float64 `json:"reorder_point" validate:"gte=0"`
	ReorderQty       float64 `json:"reorder_qty" validate:"gte=0"`
	AutoOrderEnabled *bool   `json:"auto_order_enabled"`
}

type adjustInventoryRequest struct {
	Delta float64 `json:"delta" validate:"required"`
}

type projectionResponse struct {
	ClientID int64            `json:"client_id"`
	Days     int              `json:"days"`
	Items    []ProjectionItem `json:"items"`
}

type inventoryResponse struct {
	ClientID int64         `json:"client_id"`
	Items    []LedgerEntry `json:"items"`
}

type ordersResponse struct {
	ClientID int64   `json:"client_id"`
	Orders   []Order `json:"orders"`
}
