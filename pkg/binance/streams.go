package binance

import (
	"fmt"
	"strings"
)

// Topic constructors for the websocket market streams. A topic is the
// canonical subscription key Binance uses in SUBSCRIBE/UNSUBSCRIBE params
// and in combined-stream envelopes, e.g. "btcusdt@depth". Symbols are
// lowercased here so equal subscriptions always produce equal topics.

// AggTradeStream is the aggregated trade stream for a symbol.
func AggTradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// TradeStream is the raw trade stream for a symbol.
func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// KlineStream is the candlestick stream for a symbol at an interval such as
// "1m" or "1h".
func KlineStream(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

// DepthStream is the incremental order book diff stream for a symbol.
func DepthStream(symbol string) string {
	return strings.ToLower(symbol) + "@depth"
}

// PartialDepthStream is the top-N order book snapshot stream; levels must be
// 5, 10 or 20.
func PartialDepthStream(symbol string, levels int) string {
	return fmt.Sprintf("%s@depth%d", strings.ToLower(symbol), levels)
}

// MiniTickerStream is the reduced ticker stream for a symbol.
func MiniTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@miniTicker"
}

// TickerStream is the full 24h ticker stream for a symbol.
func TickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@ticker"
}

// AllMiniTickersStream carries mini tickers for every symbol.
func AllMiniTickersStream() string {
	return "!miniTicker@arr"
}

// AllTickersStream carries full tickers for every symbol.
func AllTickersStream() string {
	return "!ticker@arr"
}

// UserDataStreamTopic subscribes account events; the listen key from
// Client.StartUserStream is the topic itself.
func UserDataStreamTopic(listenKey string) string {
	return listenKey
}
