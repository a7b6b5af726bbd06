package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/internal/catalog"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/money"
	"github.com/angelmondragon/marketsplit-backend/pkg/redis"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultMaxItemQuantity = 99

type cartStore interface {
	CartKey(buyerID string) string
	GetAndTouch(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration, mutate func(current string, found bool) (string, error)) error
	Del(ctx context.Context, keys ...string) error
}

type productLoader interface {
	GetProduct(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*catalog.Product, error)
}

// Service manages buyer carts.
type Service interface {
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Cart, error)
	RemoveItem(ctx context.Context, buyerID uuid.UUID, ref ProductRef) (*Cart, error)
	UpdateQuantity(ctx context.Context, buyerID uuid.UUID, ref ProductRef, quantity int) (*Cart, error)
	SetShippingMethod(ctx context.Context, buyerID, vendorID uuid.UUID, method string) (*Cart, error)
	GetCart(ctx context.Context, buyerID uuid.UUID) (*Cart, error)
	ClearCart(ctx context.Context, buyerID uuid.UUID) error
}

// AddItemInput is the buyer request to add a product. The unit price always
// comes from the catalog.
type AddItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

type service struct {
	store       cartStore
	products    productLoader
	quoter      ShippingQuoter
	ttl         time.Duration
	maxQuantity int
	now         func() time.Time
}

// NewService builds a cart service backed by Redis.
func NewService(store cartStore, products productLoader, quoter ShippingQuoter, cfg config.CartConfig) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if quoter == nil {
		return nil, fmt.Errorf("shipping quoter required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cart ttl must be positive")
	}
	maxQuantity := cfg.MaxItemQuantity
	if maxQuantity <= 0 {
		maxQuantity = defaultMaxItemQuantity
	}
	return &service{
		store:       store,
		products:    products,
		quoter:      quoter,
		ttl:         cfg.TTL,
		maxQuantity: maxQuantity,
		now:         time.Now,
	}, nil
}

func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*Cart, error) {
	if buyerID == uuid.Nil || input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and product id are required")
	}
	if err := s.validateQuantity(input.Quantity); err != nil {
		return nil, err
	}

	product, err := s.loadPurchasable(ctx, input.ProductID, input.VariantID)
	if err != nil {
		return nil, err
	}
	fallback, err := s.defaultShipping(ctx, product.VendorID)
	if err != nil {
		return nil, err
	}

	ref := ProductRef{ProductID: input.ProductID, VariantID: input.VariantID}
	return s.mutate(ctx, buyerID, fallback, func(c *Cart) error {
		if idx := c.findItem(ref); idx >= 0 {
			combined := c.Items[idx].Quantity + input.Quantity
			if err := s.validateQuantity(combined); err != nil {
				return err
			}
			if err := checkInventory(product, combined); err != nil {
				return err
			}
			c.Items[idx].Quantity = combined
			return nil
		}
		if err := checkInventory(product, input.Quantity); err != nil {
			return err
		}
		c.Items = append(c.Items, CartItem{
			ProductID: input.ProductID,
			VariantID: input.VariantID,
			VendorID:  product.VendorID,
			Quantity:  input.Quantity,
			UnitPrice: money.Round(product.Price),
			AddedAt:   s.now().UTC(),
		})
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, buyerID uuid.UUID, ref ProductRef) (*Cart, error) {
	if buyerID == uuid.Nil || ref.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and product id are required")
	}
	return s.mutate(ctx, buyerID, shippingChoice{}, func(c *Cart) error {
		idx := c.findItem(ref)
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	})
}

func (s *service) UpdateQuantity(ctx context.Context, buyerID uuid.UUID, ref ProductRef, quantity int) (*Cart, error) {
	if buyerID == uuid.Nil || ref.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and product id are required")
	}
	if err := s.validateQuantity(quantity); err != nil {
		return nil, err
	}

	product, err := s.loadPurchasable(ctx, ref.ProductID, ref.VariantID)
	if err != nil {
		return nil, err
	}
	if err := checkInventory(product, quantity); err != nil {
		return nil, err
	}

	return s.mutate(ctx, buyerID, shippingChoice{}, func(c *Cart) error {
		idx := c.findItem(ref)
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		c.Items[idx].Quantity = quantity
		return nil
	})
}

func (s *service) SetShippingMethod(ctx context.Context, buyerID, vendorID uuid.UUID, method string) (*Cart, error) {
	if buyerID == uuid.Nil || vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and vendor id are required")
	}

	current, err := s.GetCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	partition, ok := current.Partition(vendorID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor has no items in cart")
	}
	cost, err := s.quoter.Quote(ctx, vendorID, method, partition.Subtotal)
	if err != nil {
		return nil, err
	}
	method = normalizeMethod(method)

	return s.mutate(ctx, buyerID, shippingChoice{}, func(c *Cart) error {
		target, ok := c.Partition(vendorID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "vendor has no items in cart")
		}
		target.ShippingMethod = method
		target.ShippingCost = cost
		return nil
	})
}

func (s *service) GetCart(ctx context.Context, buyerID uuid.UUID) (*Cart, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	raw, found, err := s.store.GetAndTouch(ctx, s.store.CartKey(buyerID.String()), s.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return decodeCart(buyerID, raw, found)
}

func (s *service) ClearCart(ctx context.Context, buyerID uuid.UUID) error {
	if buyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := s.store.Del(ctx, s.store.CartKey(buyerID.String())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

// mutate applies fn to the stored cart inside an optimistic transaction. fn may
// run more than once when a concurrent writer wins the race, so it must only
// derive state from the cart it is given.
func (s *service) mutate(ctx context.Context, buyerID uuid.UUID, fallback shippingChoice, fn func(c *Cart) error) (*Cart, error) {
	var result *Cart
	err := s.store.CompareAndSwap(ctx, s.store.CartKey(buyerID.String()), s.ttl, func(current string, found bool) (string, error) {
		c, err := decodeCart(buyerID, current, found)
		if err != nil {
			return "", err
		}
		if err := fn(c); err != nil {
			return "", err
		}

		c.recompute(fallback)
		if len(c.Items) == 0 {
			result = emptyCart(buyerID)
			return "", nil
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Version++
		c.UpdatedAt = s.now().UTC()

		encoded, err := json.Marshal(c)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
		}
		result = c
		return string(encoded), nil
	})
	if err != nil {
		if errors.Is(err, redis.ErrCASConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart is being modified concurrently")
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart")
	}
	return result, nil
}

func (s *service) validateQuantity(quantity int) error {
	if quantity < 1 || quantity > s.maxQuantity {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity out of range").
			WithDetails(map[string]any{"min": 1, "max": s.maxQuantity, "quantity": quantity})
	}
	return nil
}

func (s *service) loadPurchasable(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*catalog.Product, error) {
	product, err := s.products.GetProduct(ctx, productID, variantID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, unavailable(productID)
		}
		return nil, err
	}
	if !product.Status.Purchasable() || !money.InRange(product.Price) {
		return nil, unavailable(productID)
	}
	return product, nil
}

func (s *service) defaultShipping(ctx context.Context, vendorID uuid.UUID) (shippingChoice, error) {
	method := s.quoter.DefaultMethod()
	cost, err := s.quoter.Quote(ctx, vendorID, method, decimal.Zero)
	if err != nil {
		return shippingChoice{}, err
	}
	return shippingChoice{Method: method, Cost: cost}, nil
}

func checkInventory(product *catalog.Product, quantity int) error {
	if product.TrackInventory && quantity > product.AvailableQuantity {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory").
			WithDetails(map[string]any{
				"product_id": product.ID,
				"requested":  quantity,
				"available":  product.AvailableQuantity,
			})
	}
	return nil
}

func unavailable(productID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is not available").
		WithDetails(map[string]any{"product_id": productID})
}

func decodeCart(buyerID uuid.UUID, raw string, found bool) (*Cart, error) {
	if !found || raw == "" {
		return emptyCart(buyerID), nil
	}
	var c Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode cart")
	}
	if c.Items == nil {
		c.Items = []CartItem{}
	}
	if c.Vendors == nil {
		c.Vendors = []VendorPartition{}
	}
	return &c, nil
}
