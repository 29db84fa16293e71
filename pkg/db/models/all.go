package models

// All lists every persisted model, in dependency order. Used for sqlite
// AutoMigrate in tests and local tooling.
func All() []any {
	return []any{
		&Pharmacy{},
		&Medicine{},
		&InventoryEntry{},
		&CartLine{},
		&Order{},
		&Reservation{},
		&Delivery{},
		&PaymentSession{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
