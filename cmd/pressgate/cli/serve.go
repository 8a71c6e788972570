package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pressgate/pressgate/internal/audit"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/metrics"
	"github.com/pressgate/pressgate/internal/ratelimit"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/store"
	"github.com/pressgate/pressgate/internal/token"
)

const banner = `
 ___ ___ ___ ___ ___  ___   _ _____ ___
| _ \ _ \ __/ __/ __|/ __| /_\_   _| __|
|  _/   / _|\__ \__ \ (_ |/ _ \| | | _|
|_| |_|_\___|___/___/\___/_/ \_\_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pressgate API server",
		Long:  "Start the HTTP server that issues access tokens and admits or rejects API traffic.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	logger := newLogger(cfg, dev)

	// A production deployment without a signing secret is refused by config
	// validation; in development a throwaway secret keeps the first run
	// frictionless at the cost of tokens dying on restart.
	secret := cfg.Auth.TokenSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate development secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		logger.Warn("no token secret configured, generated a throwaway one; issued tokens will not survive a restart")
	}

	st, err := openConfiguredStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.Store.Driver)

	limiter := ratelimit.New(st, logger, ratelimit.Options{
		PerMinute:     cfg.RateLimit.PerMinute,
		PerHour:       cfg.RateLimit.PerHour,
		AuthPerMinute: cfg.RateLimit.AuthPerMinute,
		IPPerMinute:   cfg.RateLimit.IPPerMinute,
		OverrideTTL:   cfg.RateLimit.OverrideTTL,
		IdleTTL:       cfg.RateLimit.IdleTTL,
		MaxEntries:    cfg.RateLimit.MaxEntries,
		SweepInterval: cfg.RateLimit.SweepInterval,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	limiter.Start(sweepCtx)

	m := metrics.New(limiter.Size, limiter.IPSize)
	rec := audit.New(st, logger)
	tokens := token.NewService(secret)

	srvCfg := server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		CORSOrigins:      cfg.Server.CORSOrigins,
		FloodRPM:         cfg.Server.FloodRPM,
		DefaultPerMinute: cfg.RateLimit.PerMinute,
		DefaultPerHour:   cfg.RateLimit.PerHour,
	}

	srv := server.New(srvCfg, st, limiter, tokens, rec, m, logger)

	fmt.Print(banner)
	fmt.Println()
	fmt.Printf("→ Pressgate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Token URL:  http://%s:%d/api/v1/token\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}

func newLogger(cfg *config.Config, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel() {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openConfiguredStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		dir := cfg.Store.DataDir
		if dir == "" {
			dir = resolveDataDir()
		}
		return store.OpenDir(dir)
	}
	return store.Open(cfg.Store.Driver, cfg.Store.DSN)
}
