package api

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// GetProducts fetches every product listed on the exchange.
func (c *Client) GetProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.get(ctx, "/products", nil, &products); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}

// GetProduct fetches a single product by id.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	if err := c.get(ctx, "/products/"+url.PathEscape(productID), nil, &p); err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	return &p, nil
}

// GetTime fetches the exchange server time.
func (c *Client) GetTime(ctx context.Context) (time.Time, error) {
	var resp TimeResponse
	if err := c.get(ctx, "/time", nil, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	return resp.Parse(), nil
}
