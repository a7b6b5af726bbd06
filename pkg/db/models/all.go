package models

// All lists every persisted model. Tests use it to build sqlite schemas that
// mirror the goose migrations.
func All() []any {
	return []any{
		&Order{},
		&SubOrder{},
		&OrderItem{},
		&VendorPayout{},
		&VendorAccount{},
		&WebhookFailure{},
		&OutboxEvent{},
	}
}
