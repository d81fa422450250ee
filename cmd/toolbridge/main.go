// Package main wires together the toolbridge service binary.
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

	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/api"
	"github.com/mkaufmann/toolbridge/internal/auth"
	"github.com/mkaufmann/toolbridge/internal/clock/system"
	"github.com/mkaufmann/toolbridge/internal/config"
	"github.com/mkaufmann/toolbridge/internal/crawl"
	"github.com/mkaufmann/toolbridge/internal/geocode"
	"github.com/mkaufmann/toolbridge/internal/logging"
	"github.com/mkaufmann/toolbridge/internal/mcptools"
	"github.com/mkaufmann/toolbridge/internal/ratelimit"
)

const version = "0.1.0"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	userAgent := fmt.Sprintf("%s/%s", cfg.AppName, version)

	geocodeLimiter := ratelimit.New(ratelimit.Config{
		Name:        "geocode",
		MaxRequests: 1,
		Window:      time.Duration(cfg.Geocode.RateWindowSeconds) * time.Second,
	})
	geocoder := geocode.NewService(geocode.Config{
		BaseURL:   cfg.Geocode.BaseURL,
		UserAgent: userAgent,
		Timeout:   cfg.GeocodeTimeout(),
	}, geocodeLimiter, time.Duration(cfg.Geocode.CacheTTLHours)*time.Hour, clk, logger.Named("geocode"))

	crawlLimiter := ratelimit.New(ratelimit.Config{
		Name:        "crawl",
		MaxRequests: 1,
		Window:      time.Duration(cfg.Crawl.RateWindowSeconds) * time.Second,
	})
	taskClient := crawl.NewTaskClient(crawl.ClientConfig{
		BaseURL:      cfg.Crawl.BaseURL,
		APIToken:     cfg.Crawl.APIToken,
		UserAgent:    userAgent,
		Timeout:      cfg.CrawlTimeout(),
		PollInterval: time.Duration(cfg.Crawl.PollIntervalSeconds) * time.Second,
		MaxPolls:     cfg.Crawl.MaxPolls,
	}, logger.Named("crawl.client"))
	crawlCache := crawl.NewResultCache(time.Duration(cfg.Crawl.CacheTTLHours)*time.Hour, clk)
	crawler := crawl.NewService(taskClient, crawlLimiter, crawlCache, clk, logger.Named("crawl"))

	issuer := cfg.Auth.MCPIssuer
	if issuer == "" {
		issuer = cfg.AppName
	}
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, issuer, clk)

	mcpServer := mcptools.New(version, geocoder, crawler, logger.Named("mcp"))
	apiServer := api.NewServer(cfg, geocoder, crawler, tokens, mcpServer.HTTPHandler(), logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
