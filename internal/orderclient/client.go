// Package orderclient calls the order service's internal endpoints on behalf
// of the payment service and the settlement worker.
package orderclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsplit-backend/internal/orders"
	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/svcclient"
)

type envelope[T any] struct {
	Data T `json:"data"`
}

// Client is the order service seen from other services.
type Client struct {
	http *svcclient.Client
}

// New builds an order service client authenticated with service tokens.
func New(cfg config.OrderServiceConfig, tokens *auth.ServiceTokens, opts ...svcclient.Option) (*Client, error) {
	httpClient, err := svcclient.New(cfg.BaseURL, auth.AudienceOrderService, tokens, cfg.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("order service client: %w", err)
	}
	return &Client{http: httpClient}, nil
}

// Verify fetches the authoritative payment view of an order.
func (c *Client) Verify(ctx context.Context, orderID uuid.UUID) (*orders.Verification, error) {
	var resp envelope[orders.Verification]
	path := fmt.Sprintf("/internal/orders/%s/verify", orderID)
	if err := c.http.Do(ctx, http.MethodGet, path, auth.ScopeOrdersVerify, nil, &resp); err != nil {
		return nil, mapError(err, "verify order")
	}
	return &resp.Data, nil
}

// ConfirmPayment asks the order service to mark the order paid. A repeated
// confirmation answers with AlreadyPaid instead of an error.
func (c *Client) ConfirmPayment(ctx context.Context, orderID uuid.UUID, input orders.ConfirmInput) (*orders.Confirmation, error) {
	var resp envelope[orders.Confirmation]
	path := fmt.Sprintf("/internal/orders/%s/confirm-payment", orderID)
	if err := c.http.Do(ctx, http.MethodPost, path, auth.ScopeOrdersConfirm, input, &resp); err != nil {
		return nil, mapError(err, "confirm payment")
	}
	return &resp.Data, nil
}

// Settlement lists the payable sub-orders of a paid order.
func (c *Client) Settlement(ctx context.Context, orderID uuid.UUID) (*orders.Settlement, error) {
	var resp envelope[orders.Settlement]
	path := fmt.Sprintf("/internal/orders/%s/settlement", orderID)
	if err := c.http.Do(ctx, http.MethodGet, path, auth.ScopeOrdersSettlement, nil, &resp); err != nil {
		return nil, mapError(err, "load settlement")
	}
	return &resp.Data, nil
}

// mapError turns remote rejections back into local codes so callers can
// branch on NOT_FOUND or SECURITY_MISMATCH as if the call were in-process.
// Remote 5xx and 429 stay DEPENDENCY_UNAVAILABLE.
func mapError(err error, message string) error {
	statusErr, ok := svcclient.AsStatus(err)
	if !ok {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	switch {
	case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	case statusErr.StatusCode == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
	case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message+": service credential rejected")
	case statusErr.Code != "":
		msg := statusErr.Message
		if msg == "" {
			msg = message
		}
		return pkgerrors.Wrap(pkgerrors.Code(statusErr.Code), err, msg)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
}
