package binance

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Market data endpoints. All of these are public; they ride the same execute
// primitive as the signed calls but skip signing.

// GetDepth returns an order book snapshot. A non-positive limit requests the
// exchange default (100).
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out OrderBook
	if err := c.get(ctx, "/api/v3/depth", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAllPrices returns the latest price for every symbol.
func (c *Client) GetAllPrices(ctx context.Context) ([]SymbolPrice, error) {
	var out []SymbolPrice
	if err := c.get(ctx, "/api/v3/ticker/price", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPrice returns the latest price for one symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (*SymbolPrice, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	var out SymbolPrice
	if err := c.get(ctx, "/api/v3/ticker/price", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHistoricalTrades returns up to limit past trades, optionally starting
// from a trade id. Zero values request the exchange defaults.
func (c *Client) GetHistoricalTrades(ctx context.Context, symbol string, limit int, fromID int64) ([]HistoricalTrade, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if fromID > 0 {
		params.Set("fromId", strconv.FormatInt(fromID, 10))
	}
	var out []HistoricalTrade
	if err := c.get(ctx, "/api/v3/historicalTrades", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllBookTickers returns the best bid/ask for every symbol.
func (c *Client) GetAllBookTickers(ctx context.Context) ([]BookTicker, error) {
	var out []BookTicker
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBookTicker returns the best bid/ask for one symbol.
func (c *Client) GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	var out BookTicker
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get24hPriceStats returns rolling 24h statistics for one symbol.
func (c *Client) Get24hPriceStats(ctx context.Context, symbol string) (*PriceStats, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	var out PriceStats
	if err := c.get(ctx, "/api/v3/ticker/24hr", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetKlines returns up to limit candlesticks for symbol at the given
// interval ("1m", "5m", "1h", ...). Zero start/end/limit request the
// exchange defaults.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}

	// Klines arrive as positional arrays, not objects.
	var rows []json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// parseKline decodes one positional kline row:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
// tradeCount, takerBase, takerQuote, ignored].
func parseKline(row json.RawMessage) (Kline, error) {
	var cells []json.RawMessage
	if err := json.Unmarshal(row, &cells); err != nil {
		return Kline{}, NewProtocolError("decoding kline row", err)
	}
	if len(cells) < 11 {
		return Kline{}, NewProtocolError("kline row too short", nil)
	}

	var k Kline
	ints := map[int]*int64{0: &k.OpenTime, 6: &k.CloseTime, 8: &k.TradeCount}
	for idx, dst := range ints {
		if err := json.Unmarshal(cells[idx], dst); err != nil {
			return Kline{}, NewProtocolError("decoding kline timestamp", err)
		}
	}
	decs := map[int]*decimal.Decimal{
		1: &k.Open, 2: &k.High, 3: &k.Low, 4: &k.Close, 5: &k.Volume,
		7: &k.QuoteAssetVolume, 9: &k.TakerBuyBaseAssetVolume, 10: &k.TakerBuyQuoteAssetVolume,
	}
	for idx, dst := range decs {
		if err := json.Unmarshal(cells[idx], dst); err != nil {
			return Kline{}, NewProtocolError("decoding kline decimal", err)
		}
	}
	return k, nil
}
