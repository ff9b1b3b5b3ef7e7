package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/gamesync/internal/codec"
	"github.com/DoyleJ11/gamesync/internal/config"
	"github.com/DoyleJ11/gamesync/internal/httpapi"
	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/logging"
	"github.com/DoyleJ11/gamesync/internal/prefs"
	"github.com/DoyleJ11/gamesync/internal/store"
	"github.com/DoyleJ11/gamesync/internal/store/memstore"
	"github.com/DoyleJ11/gamesync/internal/store/pgstore"
	"github.com/DoyleJ11/gamesync/internal/ws"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	envFile  string
	addr     string
	logLevel string
}

func newCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "gamesync",
		Short:         "Keeps browser game clients in sync through a shared session document.",
		Args:          cobra.ExactArgs(0),
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = f.addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = f.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	fs.StringVarP(&f.addr, "addr", "a", ":8080", "address to listen on (env: GAMESYNC_ADDR)")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error (env: GAMESYNC_LOG_LEVEL)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("gamesync v{{.Version}}\n")
	return cmd
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL,
			pgstore.WithMaxAttempts(cfg.TransactionAttempts),
			pgstore.WithLogger(log))
	default:
		return memstore.New(
			memstore.WithMaxAttempts(cfg.TransactionAttempts),
			memstore.WithLogger(log)), nil
	}
}

func run(parent context.Context, cfg config.Config) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting gamesync", zap.String("version", releaseVersion), zap.String("store", cfg.Store), zap.String("codec", cfg.Codec))

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	cd, err := codec.New(cfg.Codec)
	if err != nil {
		return err
	}

	pr, err := prefs.Open(ctx, cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("open prefs: %w", err)
	}
	defer func() { err = multierr.Append(err, pr.Close()) }()

	h := hub.NewHub(context.Background(), log)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			WS: ws.Deps{
				Store:  st,
				Codec:  cd,
				Prefs:  pr,
				Hub:    h,
				Logger: log,
				Root:   cfg.SessionRoot,
			},
			PublicURL: cfg.PublicURL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// websocket connections are hijacked, so stop their clients through the hub
		return multierr.Combine(h.Shutdown(sctx), srv.Shutdown(sctx))
	})
	return g.Wait()
}
