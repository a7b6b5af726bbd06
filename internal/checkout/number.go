package checkout

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/angelmondragon/marketsplit-backend/internal/cart"
	"github.com/google/uuid"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// checkoutNamespace seeds deterministic order ids.
var checkoutNamespace = uuid.MustParse("6f1c2b9e-4d7a-5e3f-9a1b-2c8d7e6f5a40")

// CheckoutKey identifies one snapshot of a cart. Any mutation bumps the
// version and therefore yields a new key.
func CheckoutKey(c *cart.Cart) string {
	return fmt.Sprintf("%s:%d", c.ID, c.Version)
}

// OrderID derives the order id for a checkout key (UUIDv5), so duplicate
// checkouts of the same snapshot collide on the primary key.
func OrderID(checkoutKey string) uuid.UUID {
	return uuid.NewSHA1(checkoutNamespace, []byte(checkoutKey))
}

// newOrderNumber returns ORD-YYYYMMDD-XXXXXX with a random alphanumeric suffix.
func newOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	for i, b := range buf {
		buf[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), buf), nil
}

func subOrderNumber(orderNumber string, sequence int) string {
	return fmt.Sprintf("%s-%d", orderNumber, sequence)
}
