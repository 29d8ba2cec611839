package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"plantmon-server/internal/config"
	"plantmon-server/internal/logging"
	"plantmon-server/internal/mqtt"
	"plantmon-server/internal/plantsim"
)

const appName = "plantsim"

var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	interval := time.Second
	if v := strings.TrimSpace(os.Getenv("PLANTSIM_INTERVAL")); v != "" {
		if interval, err = time.ParseDuration(v); err != nil {
			fmt.Fprintf(os.Stderr, "config error: invalid PLANTSIM_INTERVAL %q: %v\n", v, err)
			os.Exit(1)
		}
	}
	ids := strings.Split(os.Getenv("PLANTSIM_PLANTS"), ",")
	var plants []*plantsim.Plant
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			plants = append(plants, plantsim.NewPlant(id))
		}
	}
	if len(plants) == 0 {
		plants = append(plants, plantsim.NewPlant("demo"))
	}
	// Must not share the server's client id or the broker drops one of them.
	cfg.MQTTClientID += "-sim"

	logger := logging.New(os.Stdout, cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := mqtt.NewPublisher(cfg, logger)
	if err := pub.Connect(ctx); err != nil {
		slog.Error("mqtt connect failed", "err", err)
		os.Exit(1)
	}
	defer pub.Disconnect()

	slog.Info("simulating plants", "count", len(plants), "interval", interval, "topic", cfg.MQTTTopic)
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	if err := plantsim.Run(ctx, pub, plants, interval, rng, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("plantsim failed", "err", err)
		os.Exit(1)
	}
}
