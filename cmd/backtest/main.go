// Command backtest runs a single backtest from CSV price data and, once
// finished, optionally keeps the query API up so the run's orders,
// positions, trades, and NLV history can be inspected over HTTP.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aristath/backtest/internal/api"
	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/broker"
	"github.com/aristath/backtest/internal/config"
	"github.com/aristath/backtest/internal/kernel"
	"github.com/aristath/backtest/internal/loader"
	"github.com/aristath/backtest/internal/portfolio"
	"github.com/aristath/backtest/internal/strategy/examples"
	"github.com/aristath/backtest/pkg/logger"
)

func main() {
	exchangeID := flag.String("exchange", "default", "exchange id to assign every loaded asset")
	cash := flag.Float64("cash", 100000, "starting cash for the master portfolio")
	serve := flag.Bool("serve", false, "keep the query API running after the run completes")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting backtest")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	frames, err := loadCSVFrames(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load price data")
	}
	if len(frames) == 0 {
		log.Fatal().Str("data_dir", cfg.DataDir).Msg("no CSV price files found")
	}

	ex, err := loader.LoadExchange(*exchangeID, frames, cfg.DefaultWarmup, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build exchange")
	}

	b := broker.New("b1", log)
	h := kernel.New(log)
	if err := h.AddExchange(ex); err != nil {
		log.Fatal().Err(err).Msg("failed to register exchange")
	}
	if err := h.AddBroker(b); err != nil {
		log.Fatal().Err(err).Msg("failed to register broker")
	}
	for _, f := range frames {
		if err := h.RegisterAsset(f.AssetID, *exchangeID, "b1"); err != nil {
			log.Fatal().Err(err).Msg("failed to route asset")
		}
	}

	master := portfolio.NewMaster("master", *cash, h.Market(), log)
	if err := h.SetMaster(master); err != nil {
		log.Fatal().Err(err).Msg("failed to set master portfolio")
	}

	for _, f := range frames {
		strat := examples.NewSMACrossover("sma-"+f.AssetID, f.AssetID, *exchangeID, 10, 30, 100)
		if err := h.RegisterStrategy(strat, master); err != nil {
			log.Fatal().Err(err).Msg("failed to register strategy")
		}
	}

	if err := h.Build(); err != nil {
		log.Fatal().Err(err).Msg("failed to build run")
	}

	run := api.NewRun(fmt.Sprintf("run-%d", time.Now().UnixNano()), h, master)
	store := api.NewRunStore()
	store.Register(run)

	var srv *api.Server
	if *serve {
		srv = api.New(cfg.HTTPPort, store, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("query API stopped")
			}
		}()
	}

	run.Execute()
	log.Info().
		Str("status", string(run.Status())).
		Float64("final_nlv", master.NLV()).
		Msg("backtest finished")

	if srv == nil {
		return
	}

	log.Info().Int("port", cfg.HTTPPort).Msg("serving completed run, press ctrl-c to exit")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("query API forced to shutdown")
	}
}

// loadCSVFrames reads every *.csv file in dir into a loader.Frame. Each
// file's basename (without extension) becomes the asset id; the header
// row names the columns; the first column must be a Unix-nanosecond
// timestamp.
func loadCSVFrames(dir string) ([]loader.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cmd/backtest: reading data dir %q: %w", dir, err)
	}

	var frames []loader.Frame
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		f, err := readCSVFrame(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func readCSVFrame(path string) (loader.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return loader.Frame{}, fmt.Errorf("cmd/backtest: opening %q: %w", path, err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return loader.Frame{}, fmt.Errorf("cmd/backtest: parsing %q: %w", path, err)
	}
	if len(rows) < 2 {
		return loader.Frame{}, fmt.Errorf("cmd/backtest: %q has no data rows", path)
	}

	header := rows[0]
	columns := header[1:]
	if len(columns) == 0 {
		return loader.Frame{}, fmt.Errorf("cmd/backtest: %q has no data columns after timestamp", path)
	}
	if !containsFold(columns, asset.Open) || !containsFold(columns, asset.Close) {
		return loader.Frame{}, fmt.Errorf("cmd/backtest: %q must declare %s and %s columns", path, asset.Open, asset.Close)
	}

	timestamps := make([]int64, 0, len(rows)-1)
	values := make([][]float64, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return loader.Frame{}, fmt.Errorf("cmd/backtest: %q: bad timestamp %q: %w", path, row[0], err)
		}
		vals := make([]float64, len(columns))
		for i, raw := range row[1:] {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return loader.Frame{}, fmt.Errorf("cmd/backtest: %q: bad value %q: %w", path, raw, err)
			}
			vals[i] = v
		}
		timestamps = append(timestamps, ts)
		values = append(values, vals)
	}

	assetID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return loader.Frame{AssetID: assetID, Columns: columns, Timestamps: timestamps, Rows: values}, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
