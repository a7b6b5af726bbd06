package enums

import "fmt"

// SubOrderStatus tracks vendor fulfillment of a sub-order.
type SubOrderStatus string

const (
	SubOrderStatusPending    SubOrderStatus = "pending"
	SubOrderStatusProcessing SubOrderStatus = "processing"
	SubOrderStatusShipped    SubOrderStatus = "shipped"
	SubOrderStatusDelivered  SubOrderStatus = "delivered"
	SubOrderStatusCancelled  SubOrderStatus = "cancelled"
)

var subOrderTransitions = map[SubOrderStatus][]SubOrderStatus{
	SubOrderStatusPending:    {SubOrderStatusProcessing, SubOrderStatusCancelled},
	SubOrderStatusProcessing: {SubOrderStatusShipped, SubOrderStatusCancelled},
	SubOrderStatusShipped:    {SubOrderStatusDelivered},
}

// String implements fmt.Stringer.
func (s SubOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SubOrderStatus.
func (s SubOrderStatus) IsValid() bool {
	switch s {
	case SubOrderStatusPending, SubOrderStatusProcessing, SubOrderStatusShipped,
		SubOrderStatusDelivered, SubOrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s SubOrderStatus) CanTransitionTo(next SubOrderStatus) bool {
	for _, candidate := range subOrderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseSubOrderStatus converts raw input into a SubOrderStatus.
func ParseSubOrderStatus(value string) (SubOrderStatus, error) {
	status := SubOrderStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid sub-order status %q", value)
	}
	return status, nil
}
