// Package main is the entry point for the one-shot reciprocal optimizer.
// It runs a single batch pass and exits, for use from cron or a manual
// invocation. The API server runs the same optimizer on a ticker; this
// command bypasses the run lock so an operator can force a run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/trueque-collective/trueque/internal/middleware"
	"github.com/trueque-collective/trueque/internal/reciprocal"
	"github.com/trueque-collective/trueque/internal/store/postgres"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum duration for the run")
	flag.Parse()

	if *help {
		fmt.Println("Trueque Reciprocal Optimizer")
		fmt.Println()
		fmt.Println("Usage: reciprocal [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
		os.Exit(0)
	}

	env := os.Getenv("TRUEQUE_ENV")
	if env == "" {
		env = "development"
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := postgres.Open(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Nil lock: a forced run always proceeds regardless of the cadence
	// the in-process job observes.
	opt := reciprocal.New(
		postgres.NewItemStore(db),
		postgres.NewSwipeStore(db),
		postgres.NewAffinityStore(db),
		postgres.NewOpportunityStore(db),
		nil,
		nil,
		reciprocal.Config{Logger: logger},
	)

	summary, err := opt.Run(ctx)
	if err != nil {
		logger.Error("reciprocal optimizer run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("reciprocal optimizer run complete",
		"users", summary.Users,
		"pairwise", summary.Pairwise,
		"cycles", summary.Cycles,
		"kept", summary.Kept,
		"boosted_items", summary.BoostedItems,
		"duration", summary.Duration.String(),
	)
}
