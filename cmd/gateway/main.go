package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"broker-gateway/internal/broker/registry"
	"broker-gateway/internal/interfaces"
	"broker-gateway/internal/logger"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file")
	venue := flag.String("venue", "", "venue to query (default: configured default venue)")
	quoteSymbol := flag.String("quote", "", "also fetch a quote for this instrument (e.g. EUR/USD)")
	flag.Parse()

	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info(ctx, "Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(ctx, *configPath)
	must(err)

	compressOldLogs(ctx)

	reg := registry.New(*cfg)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn(ctx, "Registry close failed", "error", err)
		}
		shutdownSystem(context.Background())
	}()

	var brk interfaces.Broker
	if *venue != "" {
		brk, err = reg.Get(ctx, *venue)
	} else {
		brk, err = reg.Default(ctx)
	}
	must(err)

	logger.Info(ctx, "Gateway connected", "venue", brk.Venue())

	account, err := brk.GetAccountInfo(ctx)
	must(err)
	printJSON("account", account)

	positions, err := brk.GetPositions(ctx)
	must(err)
	printJSON("positions", positions)

	if *quoteSymbol != "" {
		qp, ok := brk.(interfaces.QuoteProvider)
		if !ok {
			log.Fatalf("venue %s does not serve quotes", brk.Venue())
		}
		quote, err := qp.GetQuote(ctx, *quoteSymbol)
		must(err)
		printJSON("quote", quote)
	}
}

func printJSON(label string, v any) {
	b, err := json.MarshalIndent(map[string]any{label: v}, "", "  ")
	must(err)
	fmt.Println(string(b))
}
