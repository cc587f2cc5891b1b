// Backtest CLI. Replays historical candles through the full decision
// and risk pipeline against the simulated venue and prints a report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/pkg/backtest"
)

var (
	symbol    = flag.String("symbol", "BTCUSDT", "Symbol to trade")
	timeframe = flag.String("timeframe", "1h", "Bar timeframe label")
	candles   = flag.String("candles", "", "Path to CSV candle file (open_time,open,high,low,close,volume[,close_time])")
	capital   = flag.Float64("capital", 10000.0, "Initial balance in quote units")
	takerFee  = flag.Float64("taker-fee", 0.0005, "Taker fee rate (0.0005 = 5 bps)")
	warmup    = flag.Int("warmup", 40, "Bars fed to indicators before the first decision")

	tradesFile = flag.String("trades", "", "Write the closed trades as JSON to this file (optional)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *candles == "" {
		fmt.Fprintln(os.Stderr, "Error: -candles flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}
}

func run(ctx context.Context) error {
	bars, err := backtest.LoadCandlesCSV(*candles)
	if err != nil {
		return err
	}
	log.Info().
		Str("symbol", *symbol).
		Int("bars", len(bars)).
		Time("from", bars[0].OpenTime).
		Time("to", bars[len(bars)-1].OpenTime).
		Msg("Loaded candles")

	cfg := backtest.DefaultConfig(*symbol)
	cfg.Timeframe = *timeframe
	cfg.Warmup = *warmup
	cfg.Simulator.InitialBalance = *capital
	cfg.Simulator.TakerFee = *takerFee

	runner, err := backtest.NewRunner(cfg)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, bars)
	if err != nil {
		return err
	}

	fmt.Println(backtest.Report(result))

	if *tradesFile != "" {
		raw, err := json.MarshalIndent(result.Trades, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal trades: %w", err)
		}
		if err := os.WriteFile(*tradesFile, raw, 0o644); err != nil {
			return fmt.Errorf("write trades: %w", err)
		}
		log.Info().Str("file", *tradesFile).Int("trades", len(result.Trades)).Msg("Trades written")
	}
	return nil
}
