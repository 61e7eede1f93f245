package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-house/internal/app"
	"auction-house/internal/config"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	utils.ConfigureLogger(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Fatal("Auction server stopped with error", map[string]any{"error": err.Error()})
	}
	utils.Info("Auction server stopped", nil)
}

// run serves HTTP and sweeps auction status until ctx is cancelled, then shuts down gracefully
func run(ctx context.Context, cfg config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.Info("Starting auction server", map[string]any{"addr": cfg.Server.Addr, "store": cfg.Store.Driver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		utils.Info("Shutting down auction server", nil)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
