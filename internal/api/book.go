package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/l3book/internal/model"
)

// GetProductOrderBook fetches the book of a product at level 1, 2 or 3.
func (c *Client) GetProductOrderBook(ctx context.Context, productID string, level int) (*BookResponse, error) {
	if level < 1 || level > 3 {
		return nil, fmt.Errorf("get book %s: invalid level %d", productID, level)
	}

	query := url.Values{}
	query.Set("level", strconv.Itoa(level))

	var resp BookResponse
	if err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/book", query, &resp); err != nil {
		return nil, fmt.Errorf("get book %s: %w", productID, err)
	}

	return &resp, nil
}

// FetchSnapshot fetches the full level 3 book of a product.
func (c *Client) FetchSnapshot(ctx context.Context, productID string) (model.Snapshot, error) {
	resp, err := c.GetProductOrderBook(ctx, productID, 3)
	if err != nil {
		return model.Snapshot{}, err
	}

	snap, err := resp.ToSnapshot(productID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("convert book %s: %w", productID, err)
	}

	c.logger.Debug("fetched snapshot",
		"product", productID,
		"sequence", snap.Sequence,
		"bids", len(snap.Bids),
		"asks", len(snap.Asks),
	)
	return snap, nil
}
