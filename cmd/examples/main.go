package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veiloq/binance-connector/pkg/binance"
	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/stream"
)

func main() {
	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	opts := binance.NewOptions()
	opts.Credentials = binance.NewCredentials(
		os.Getenv("BINANCE_API_KEY"),
		os.Getenv("BINANCE_API_SECRET"),
	)
	opts.Logger = logger

	client := binance.NewClient(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Public REST endpoints work without credentials.
	logger.Info("fetching server time")
	st, err := client.GetServerTime(ctx)
	if err != nil {
		logger.Error("failed to get server time", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("server time", logging.Int64("server_time", st.ServerTime))

	logger.Info("fetching order book")
	book, err := client.GetDepth(ctx, "BTCUSDT", 5)
	if err != nil {
		logger.Error("failed to get order book", logging.Error(err))
		os.Exit(1)
	}
	for _, bid := range book.Bids {
		logger.Info("bid",
			logging.String("price", bid.Price.String()),
			logging.String("quantity", bid.Quantity.String()),
		)
	}

	// Signed endpoints need credentials.
	if !opts.Credentials.Empty() {
		account, err := client.GetAccount(ctx)
		if err != nil {
			logger.Error("failed to get account", logging.Error(err))
			os.Exit(1)
		}
		for _, balance := range account.Balances {
			if balance.Free.IsZero() && balance.Locked.IsZero() {
				continue
			}
			logger.Info("balance",
				logging.String("asset", balance.Asset),
				logging.String("free", balance.Free.String()),
			)
		}
	}

	// Stream live trades and klines until interrupted.
	cfg := stream.NewConfig()
	cfg.Logger = logger
	mux := stream.NewMultiplexer(cfg)
	defer mux.Shutdown()

	trades, err := mux.Subscribe(binance.TradeStream("BTCUSDT"))
	if err != nil {
		logger.Error("failed to subscribe", logging.Error(err))
		os.Exit(1)
	}
	klines, err := mux.Subscribe(binance.KlineStream("BTCUSDT", "1m"))
	if err != nil {
		logger.Error("failed to subscribe", logging.Error(err))
		os.Exit(1)
	}

	go consume(logger, trades)
	go consume(logger, klines)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutting down")
	case <-time.After(5 * time.Minute):
		logger.Info("example finished")
	}
}

func consume(logger logging.Logger, sub *stream.Subscription) {
	for ev := range sub.Events() {
		switch ev.Kind {
		case stream.EventData:
			logger.Info("event",
				logging.String("topic", ev.Topic),
				logging.Int("bytes", len(ev.Data)),
			)
		case stream.EventReconnected:
			logger.Warn("reconnected, frames may have been lost",
				logging.String("topic", ev.Topic),
			)
		case stream.EventError:
			logger.Error("stream failed",
				logging.String("topic", ev.Topic),
				logging.Error(ev.Err),
			)
		}
	}
}
