// Package authority is the HTTP client of the remote cart authority, the
// source of truth for a signed-in user's cart.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/utafrali/EcommerceGo/pkg/errors"
	"github.com/utafrali/EcommerceGo/pkg/httpclient"
	"github.com/utafrali/EcommerceGo/services/cart/internal/domain"
	"github.com/utafrali/EcommerceGo/services/cart/internal/reconcile"
)

const (
	serviceName  = "cart-authority"
	userIDHeader = "X-User-ID"
)

// Client talks to the cart authority. It is shared by all sessions; use
// ForUser to get the per-user view the synchronized store consumes.
type Client struct {
	doer    httpclient.Doer
	baseURL string
	logger  *slog.Logger
}

// New creates an authority client. doer must not retry requests.
func New(doer httpclient.Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// ForUser returns the authority of a single user's cart.
func (c *Client) ForUser(userID string) *UserCart {
	return &UserCart{client: c, userID: userID}
}

// UserCart is the authority of one user's cart.
type UserCart struct {
	client *Client
	userID string
}

var (
	_ reconcile.Authority = (*UserCart)(nil)
	_ reconcile.Clearer   = (*UserCart)(nil)
)

type createRequest struct {
	ProductID string          `json:"product_id"`
	Variant   *domain.Variant `json:"variant,omitempty"`
	Quantity  int             `json:"quantity"`
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

// Create adds quantity units of the product to the cart and returns the
// canonical line.
func (u *UserCart) Create(ctx context.Context, productID string, variant *domain.Variant, quantity int) (domain.LineItem, error) {
	var line domain.LineItem
	err := u.send(ctx, "add", http.MethodPost, "/api/v1/cart/items",
		createRequest{ProductID: productID, Variant: variant, Quantity: quantity}, &line)
	return line, err
}

// Delete removes a line by its authority id.
func (u *UserCart) Delete(ctx context.Context, itemID string) error {
	return u.send(ctx, "remove", http.MethodDelete, "/api/v1/cart/items/"+url.PathEscape(itemID), nil, nil)
}

// Update sets a line's quantity and returns the canonical line.
func (u *UserCart) Update(ctx context.Context, itemID string, quantity int) (domain.LineItem, error) {
	var line domain.LineItem
	err := u.send(ctx, "set_quantity", http.MethodPatch, "/api/v1/cart/items/"+url.PathEscape(itemID),
		updateRequest{Quantity: quantity}, &line)
	return line, err
}

// List returns every line of the cart.
func (u *UserCart) List(ctx context.Context) ([]domain.LineItem, error) {
	var items []domain.LineItem
	if err := u.send(ctx, "sync", http.MethodGet, "/api/v1/cart/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Clear empties the cart in one call.
func (u *UserCart) Clear(ctx context.Context) error {
	return u.send(ctx, "clear", http.MethodDelete, "/api/v1/cart", nil, nil)
}

// send issues one request. Every failure, including a non-2xx answer, is
// reported as a remote operation failure.
func (u *UserCart) send(ctx context.Context, op, method, path string, payload, dst any) error {
	req, err := httpclient.NewJSONRequest(ctx, method, u.client.baseURL+path, payload)
	if err != nil {
		return apperrors.RemoteOperationFailed(op, err)
	}
	req.Header.Set(userIDHeader, u.userID)

	resp, err := u.client.doer.Do(ctx, req)
	if err != nil {
		u.client.logger.WarnContext(ctx, "cart authority call failed",
			slog.String("op", op),
			slog.String("user_id", u.userID),
			slog.String("error", err.Error()),
		)
		return apperrors.RemoteOperationFailed(op, fmt.Errorf("%s %s: %w", method, path, err))
	}

	if err := httpclient.DecodeData(resp, serviceName, dst); err != nil {
		u.client.logger.WarnContext(ctx, "cart authority rejected call",
			slog.String("op", op),
			slog.String("user_id", u.userID),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return apperrors.RemoteOperationFailed(op, err)
	}
	return nil
}
