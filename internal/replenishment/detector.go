package replenishment

// IsDue reports whether entry has reached its reorder point and should be replenished.
func IsDue(entry LedgerEntry) bool {
	return entry.AutoOrderEnabled && entry.ReorderQty > 0 && entry.CurrentStock <= entry.ReorderPoint
}

// CollectDue filters entries down to the due ones, keeping ledger order.
func CollectDue(entries []LedgerEntry) []LedgerEntry {
	var due []LedgerEntry
	for _, e := range entries {
		if IsDue(e) {
			due = append(due, e)
		}
	}
	return due
}
