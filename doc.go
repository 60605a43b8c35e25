// Package binance-connector is a client library for the Binance spot
// exchange: signed REST access plus multiplexed WebSocket market streams.
//
// Core Features:
//
//   - REST client with HMAC-SHA256 request signing and rate limiting
//   - Market data operations (order books, tickers, klines, trades)
//   - Account operations (balances, orders, trade history)
//   - WebSocket stream multiplexing: many topics over few connections
//   - Automatic reconnection with backoff and topic re-subscription
//   - A single closed error taxonomy shared by REST and streams
//
// Every failure surfaces as a *binance.Error carrying one Kind: Transport,
// Protocol, Authentication, RateLimited, Exchange, SubscriptionClosed or
// Fatal. Raw transport and decoding errors never escape the library, and
// secret material never appears in errors or logs.
//
// # REST
//
//	opts := binance.NewOptions()
//	opts.Credentials = binance.NewCredentials(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
//	client := binance.NewClient(opts)
//
//	book, err := client.GetDepth(ctx, "BTCUSDT", 100)
//	if err != nil {
//	    var bErr *binance.Error
//	    if errors.As(err, &bErr) && bErr.Retryable() {
//	        // transport failure or rate limit, caller may retry
//	    }
//	}
//
// # Streams
//
//	mux := stream.NewMultiplexer(stream.NewConfig())
//	defer mux.Shutdown()
//
//	sub, err := mux.Subscribe(binance.TradeStream("BTCUSDT"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range sub.Events() {
//	    switch ev.Kind {
//	    case stream.EventData:
//	        // ev.Data holds the raw JSON event
//	    case stream.EventReconnected:
//	        // frames may have been lost across this boundary
//	    case stream.EventError:
//	        // fatal; the channel closes after this event
//	    }
//	}
//
// Subscriptions are cheap: topics share physical connections up to a
// configured capacity and additional connections are dialed on demand.
// Subscribing twice to one topic returns the same handle.
package binanceconnector
