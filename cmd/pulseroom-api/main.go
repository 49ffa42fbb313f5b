package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/config"
	"github.com/pulseroom/pulseroom/internal/database"
	"github.com/pulseroom/pulseroom/internal/hub"
	"github.com/pulseroom/pulseroom/internal/logging"
	"github.com/pulseroom/pulseroom/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulseroom-api",
		Short: "Pulseroom collaborative playlist backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Bool("seed", defaults.GetBool("database.seed"), "Seed the default playlist and track library on startup")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("keepalive-interval", defaults.GetInt("keepalive.interval_s"), "Keepalive broadcast interval in seconds")
	cmd.PersistentFlags().Int("renormalize-interval", defaults.GetInt("position.renormalize_interval_s"), "Position renormalization interval in seconds (0 disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.seed", "seed")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "keepalive.interval_s", "keepalive-interval")
	bindFlag(cmd, "position.renormalize_interval_s", "renormalize-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := catalog.NewStore(catalog.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: catalog.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if appConfig.SeedDatabase {
		if err := store.SeedCatalog(signalCtx); err != nil {
			return err
		}
	}

	broadcastHub, err := hub.New(hub.Config{
		Store:        store,
		Logger:       logger,
		Clock:        time.Now,
		NameMaxRunes: appConfig.SessionNameMaxRunes,
	})
	if err != nil {
		return err
	}
	go broadcastHub.Run(signalCtx, appConfig.KeepaliveInterval, appConfig.RenormalizeInterval)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Hub:    broadcastHub,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
