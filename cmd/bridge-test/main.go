// bridge-test is a diagnostic tool that drives a full broker session against
// a running bridge add-on (or addon-sim): login, subscribe, quote, place a
// market order, poll it, and close it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/broker"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/config"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/logging"
)

func main() {
	host := flag.String("host", "127.0.0.1", "bridge host")
	port := flag.Int("port", 8888, "bridge port")
	account := flag.String("account", "Sim101", "account name")
	symbol := flag.String("symbol", "ES", "instrument to trade")
	amount := flag.Int("amount", 1, "signed order amount")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	cfg := config.Default()
	cfg.Bridge.Host = *host
	cfg.Bridge.Port = *port
	cfg.Log.Level = *logLevel

	log, err := logging.Build(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge-test: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	b := broker.New(cfg, log)
	name, version := b.Open(
		func(text string) int {
			fmt.Printf("[msg] %s\n", text)
			return 0
		},
		func(progress int) int { return 1 },
	)
	fmt.Printf("[bridge-test] Plugin %s v%d\n", name, version)

	accounts, ok := b.Login(*account, "", "Real")
	if ok != 1 {
		fmt.Println("[bridge-test] Login FAILED")
		os.Exit(1)
	}
	fmt.Printf("[bridge-test] Logged in: %s\n", accounts)
	defer b.Login("", "", "")

	utc, status := b.Time()
	fmt.Printf("[bridge-test] Time: status=%d utc=%.6f\n", status, utc)

	if b.Asset(*symbol, nil, nil, nil, nil, nil, nil) != 1 {
		fmt.Printf("[bridge-test] Subscribe %s FAILED\n", *symbol)
		os.Exit(1)
	}

	var price, spread, volume, pip, pipCost, lotAmount float64
	if b.Asset(*symbol, &price, &spread, &volume, &pip, &pipCost, &lotAmount) != 1 {
		fmt.Printf("[bridge-test] Quote %s FAILED\n", *symbol)
		os.Exit(1)
	}
	fmt.Printf("[bridge-test] %s  Price=%.2f  Spread=%.2f  Vol=%.0f  Pip=%.2f  PipCost=%.2f\n",
		*symbol, price, spread, volume, pip, pipCost)

	var balance, tradeVal, margin float64
	if b.Account(*account, &balance, &tradeVal, &margin) == 1 {
		fmt.Printf("[bridge-test] Account  Balance=%.2f  Unrealized=%.2f  Margin=%.2f\n",
			balance, tradeVal, margin)
	}

	var fillPrice float64
	var filled int
	id := b.Buy2(*symbol, *amount, 0, 0, &fillPrice, &filled)
	if id == 0 {
		fmt.Println("[bridge-test] Order FAILED")
		os.Exit(1)
	}
	fmt.Printf("[bridge-test] Order id=%d  filled=%d @ %.2f\n", id, filled, fillPrice)
	fmt.Printf("[bridge-test] Position %s = %.0f\n",
		*symbol, b.Command(broker.GetPosition, *symbol))

	var open, closeP, cost, profit float64
	n := b.Trade(id, &open, &closeP, &cost, &profit)
	fmt.Printf("[bridge-test] Trade: filled=%d open=%.2f close=%.2f profit=%.2f\n",
		n, open, closeP, profit)

	var closeFill int
	closeP, cost, profit = 0, 0, 0
	if b.Sell2(id, 0, 0, &closeP, &cost, &profit, &closeFill) == 0 {
		fmt.Println("[bridge-test] Close FAILED")
		os.Exit(1)
	}
	fmt.Printf("[bridge-test] Closed: filled=%d @ %.2f  profit=%.2f\n", closeFill, closeP, profit)
	fmt.Printf("[bridge-test] Position %s = %.0f\n",
		*symbol, b.Command(broker.GetPosition, *symbol))
}
