package binance

import (
	"context"
	"net/url"
)

// User data stream management. These calls need the API key header but no
// signature; the returned listen key doubles as the websocket topic for
// account events (see UserDataStreamTopic).

// StartUserStream opens a user data stream and returns its listen key.
func (c *Client) StartUserStream(ctx context.Context) (*UserDataStream, error) {
	if c.creds.APIKey == "" {
		return nil, NewAuthenticationError(0, "user data stream requires an API key")
	}
	var out UserDataStream
	if err := c.post(ctx, "/api/v3/userDataStream", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KeepAliveUserStream extends a listen key's validity. Binance expires keys
// after 60 minutes without a keepalive.
func (c *Client) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	if c.creds.APIKey == "" {
		return NewAuthenticationError(0, "user data stream requires an API key")
	}
	body := url.Values{}
	body.Set("listenKey", listenKey)
	return c.put(ctx, "/api/v3/userDataStream", body, nil)
}

// CloseUserStream terminates a user data stream.
func (c *Client) CloseUserStream(ctx context.Context, listenKey string) error {
	if c.creds.APIKey == "" {
		return NewAuthenticationError(0, "user data stream requires an API key")
	}
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return c.delete(ctx, "/api/v3/userDataStream", params, nil)
}
