package binance

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Order sides, types and time-in-force values accepted by PlaceOrder.
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	TimeInForceGTC = "GTC"
)

// OrderRequest describes an order to place. Price is ignored for market
// orders.
type OrderRequest struct {
	Symbol      string
	Side        string
	Type        string
	TimeInForce string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
}

// GetAccount returns account balances and permissions. Signed.
func (c *Client) GetAccount(ctx context.Context) (*AccountInformation, error) {
	var out AccountInformation
	if err := c.signedGet(ctx, "/api/v3/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance returns the balance for one asset, or nil if the account holds
// none of it.
func (c *Client) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	account, err := c.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	asset = strings.ToUpper(asset)
	for i := range account.Balances {
		if account.Balances[i].Asset == asset {
			return &account.Balances[i], nil
		}
	}
	return nil, nil
}

// PlaceOrder submits a new order. Signed.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Transaction, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", req.Quantity.String())
	if req.Type == OrderTypeLimit {
		tif := req.TimeInForce
		if tif == "" {
			tif = TimeInForceGTC
		}
		params.Set("timeInForce", tif)
		params.Set("price", req.Price.String())
	}

	var out Transaction
	if err := c.signedPost(ctx, "/api/v3/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LimitBuy places a GTC limit buy.
func (c *Client) LimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (*Transaction, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol: symbol, Side: OrderSideBuy, Type: OrderTypeLimit,
		TimeInForce: TimeInForceGTC, Quantity: qty, Price: price,
	})
}

// LimitSell places a GTC limit sell.
func (c *Client) LimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (*Transaction, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol: symbol, Side: OrderSideSell, Type: OrderTypeLimit,
		TimeInForce: TimeInForceGTC, Quantity: qty, Price: price,
	})
}

// MarketBuy places a market buy.
func (c *Client) MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (*Transaction, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol: symbol, Side: OrderSideBuy, Type: OrderTypeMarket, Quantity: qty,
	})
}

// MarketSell places a market sell.
func (c *Client) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*Transaction, error) {
	return c.PlaceOrder(ctx, OrderRequest{
		Symbol: symbol, Side: OrderSideSell, Type: OrderTypeMarket, Quantity: qty,
	})
}

// GetOrderStatus looks up one order by id. Signed.
func (c *Client) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out Order
	if err := c.signedGet(ctx, "/api/v3/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels a resting order. Signed.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderCanceled, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	var out OrderCanceled
	if err := c.signedDelete(ctx, "/api/v3/order", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOpenOrders returns resting orders for a symbol. Signed.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	var out []Order
	if err := c.signedGet(ctx, "/api/v3/openOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllOrders returns active, canceled and filled orders for a symbol.
// Signed.
func (c *Client) GetAllOrders(ctx context.Context, symbol string, orderID int64, limit int) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	if orderID > 0 {
		params.Set("orderId", strconv.FormatInt(orderID, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []Order
	if err := c.signedGet(ctx, "/api/v3/allOrders", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTradeHistory returns the account's fills for a symbol. Signed.
func (c *Client) GetTradeHistory(ctx context.Context, symbol string, limit int, fromID int64) ([]TradeHistoryEntry, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if fromID > 0 {
		params.Set("fromId", strconv.FormatInt(fromID, 10))
	}
	var out []TradeHistoryEntry
	if err := c.signedGet(ctx, "/api/v3/myTrades", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
