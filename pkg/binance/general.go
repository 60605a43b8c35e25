package binance

import "context"

// Ping tests connectivity to the REST endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/api/v3/ping", nil, nil)
}

// GetServerTime returns the exchange clock. Useful for diagnosing signed
// request timestamp rejections.
func (c *Client) GetServerTime(ctx context.Context) (*ServerTime, error) {
	var out ServerTime
	if err := c.get(ctx, "/api/v3/time", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExchangeInfo returns trading rules and symbol metadata.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var out ExchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
