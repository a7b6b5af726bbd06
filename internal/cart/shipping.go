package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ShippingQuoter prices a shipping method for one vendor's share of a cart.
type ShippingQuoter interface {
	Quote(ctx context.Context, vendorID uuid.UUID, method string, subtotal decimal.Decimal) (decimal.Decimal, error)
	DefaultMethod() string
}

// FlatRateQuoter charges a fixed amount per method regardless of vendor.
type FlatRateQuoter struct {
	rates         map[string]decimal.Decimal
	defaultMethod string
}

// NewFlatRateQuoter parses the configured rate table.
func NewFlatRateQuoter(cfg config.ShippingConfig) (*FlatRateQuoter, error) {
	if len(cfg.Rates) == 0 {
		return nil, fmt.Errorf("at least one shipping rate is required")
	}
	rates := make(map[string]decimal.Decimal, len(cfg.Rates))
	for method, raw := range cfg.Rates {
		cost, err := money.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("shipping rate %q: %w", method, err)
		}
		if cost.IsNegative() {
			return nil, fmt.Errorf("shipping rate %q must not be negative", method)
		}
		rates[normalizeMethod(method)] = cost
	}
	defaultMethod := normalizeMethod(cfg.DefaultMethod)
	if _, ok := rates[defaultMethod]; !ok {
		return nil, fmt.Errorf("default shipping method %q has no rate", cfg.DefaultMethod)
	}
	return &FlatRateQuoter{rates: rates, defaultMethod: defaultMethod}, nil
}

func (q *FlatRateQuoter) Quote(_ context.Context, _ uuid.UUID, method string, _ decimal.Decimal) (decimal.Decimal, error) {
	cost, ok := q.rates[normalizeMethod(method)]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "unsupported shipping method").
			WithDetails(map[string]any{"method": method})
	}
	return cost, nil
}

func (q *FlatRateQuoter) DefaultMethod() string {
	return q.defaultMethod
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
