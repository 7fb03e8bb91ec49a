// Package catalog looks up current product prices in the product service.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/EcommerceGo/pkg/httpclient"
	"github.com/utafrali/EcommerceGo/services/cart/internal/store"
)

const serviceName = "product"

// product is the subset of the product service's product the cart reads.
// BasePrice is in minor units (cents).
type product struct {
	ID        string `json:"id"`
	BasePrice int64  `json:"base_price"`
	Currency  string `json:"currency"`
}

// Client resolves unit prices from the product service.
type Client struct {
	doer    httpclient.Doer
	baseURL string
	logger  *slog.Logger
}

var _ store.Catalog = (*Client)(nil)

// New creates a catalog client.
func New(doer httpclient.Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// UnitPrice returns the current base price of a product.
func (c *Client) UnitPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	req, err := httpclient.NewJSONRequest(ctx, http.MethodGet, c.baseURL+"/api/v1/products/"+url.PathEscape(productID), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build product request: %w", err)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get product %s: %w", productID, err)
	}

	var p product
	if err := httpclient.DecodeData(resp, serviceName, &p); err != nil {
		return decimal.Zero, fmt.Errorf("get product %s: %w", productID, err)
	}
	if p.BasePrice < 0 {
		return decimal.Zero, fmt.Errorf("product %s has negative price %d", productID, p.BasePrice)
	}

	price := decimal.New(p.BasePrice, -2)
	c.logger.DebugContext(ctx, "resolved catalog price",
		slog.String("product_id", productID),
		slog.String("unit_price", price.String()),
	)
	return price, nil
}
