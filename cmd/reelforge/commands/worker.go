package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/printer"
	"github.com/dyluth/reelforge/internal/server"
	"github.com/spf13/cobra"
)

var (
	workerConsumer string
	workerNoHTTP   bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the chef: consume generation events, expire gates, serve HTTP",
	Long: `Run the chef agent until interrupted.

The worker consumes generation events from the configured Redis stream,
charges each to its project budget, reduces quality when usage crosses the
reduce threshold, and opens a human gate when a fast-tier project exceeds
its budget. It also expires stale gate requests and serves the HTTP API.`,
	RunE: runWorker,
}

func init() {
	host, _ := os.Hostname()
	workerCmd.Flags().StringVar(&workerConsumer, "consumer", fmt.Sprintf("%s-%d", host, os.Getpid()), "consumer name within the group")
	workerCmd.Flags().BoolVar(&workerNoHTTP, "no-http", false, "do not start the HTTP server")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.board.Ping(ctx); err != nil {
		return printer.Error("Backends unreachable", err.Error(), []string{"Check that Redis is running and redis.url is correct"})
	}

	bus, err := a.bus()
	if err != nil {
		return err
	}
	gate := a.gate()
	agent := chef.NewAgent(a.board, a.budgetManager(), chef.NewStrategyAdjuster(a.cfg.Strategy), gate, a.logger)

	var srv *server.Server
	if !workerNoHTTP {
		srv = server.NewServer(a.cfg.Server.Addr, server.New(server.Config{
			Projects: a.board,
			Gate:     gate,
			Cache:    a.cache(),
			Logger:   a.logger,
		}), a.logger)
		srv.Start()
	}

	logging.Event(a.logger, "worker_started",
		"instance", a.cfg.Namespace,
		"consumer", workerConsumer,
		"stream", bus.Stream())
	printer.Success("Worker %s consuming %s\n", workerConsumer, bus.Stream())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- bus.Consume(ctx, workerConsumer, agent.Handle)
	}()
	go func() {
		defer wg.Done()
		errs <- gate.Run(ctx, a.cfg.HumanGate.PollInterval)
	}()

	// Either loop failing stops the other.
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		stop()
	}
	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown failed", "error", err)
		}
	}
	logging.Event(a.logger, "worker_stopped", "consumer", workerConsumer)
	return runErr
}
