// addon-sim runs the protocol simulator as a standalone TCP server, standing
// in for the order-management application's bridge add-on during plugin
// development.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/config"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/logging"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/sim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "listen address")
	fillPolls := flag.Int("fill-polls", 1, "status polls before a market order fills")
	posLag := flag.Int("pos-lag", 2, "position polls before a fill shows in the collection")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.Build(*logLevel, config.Default().Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "addon-sim: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	server := sim.NewServer(log)
	server.FillAfterPolls(*fillPolls)
	server.PositionLag(*posLag)
	server.SetAccount(model.AccountSummary{
		Cash:        100000,
		BuyingPower: 400000,
		RealizedPnL: 0,
	}, true)

	seed := []struct {
		symbol string
		inst   sim.Instrument
	}{
		{"ES", sim.Instrument{
			Quote: model.Quote{Last: 5000.00, Bid: 4999.75, Ask: 5000.25, Volume: 1250000},
			Spec:  model.AssetSpec{TickSize: 0.25, PointValue: 50},
		}},
		{"NQ", sim.Instrument{
			Quote: model.Quote{Last: 17500.00, Bid: 17499.75, Ask: 17500.25, Volume: 620000},
			Spec:  model.AssetSpec{TickSize: 0.25, PointValue: 20},
		}},
		{"CL", sim.Instrument{
			Quote: model.Quote{Last: 78.40, Bid: 78.39, Ask: 78.41, Volume: 310000},
			Spec:  model.AssetSpec{TickSize: 0.01, PointValue: 1000},
		}},
	}
	for _, s := range seed {
		server.SetInstrument(s.symbol, s.inst)
	}

	bound, err := server.Start(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "addon-sim: listen: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()

	fmt.Printf("[addon-sim] Listening on %s (fill-polls=%d pos-lag=%d)\n", bound, *fillPolls, *posLag)
	fmt.Println("[addon-sim] Symbols: ES NQ CL  (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\n[addon-sim] Stopped")
}
