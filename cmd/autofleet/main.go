package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/autofleet/internal/config"
	"github.com/HerbHall/autofleet/internal/fleet"
	"github.com/HerbHall/autofleet/internal/gateway"
	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/server"
	"github.com/HerbHall/autofleet/internal/store"
	"github.com/HerbHall/autofleet/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		}
	}

	fs := pflag.NewFlagSet("autofleet", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "path to configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	printConfig := fs.Bool("print-config", false, "print the effective configuration as YAML and exit")
	fs.String("host", "", "listen host (overrides server.host)")
	fs.String("port", "", "listen port (overrides server.port)")
	fs.String("db", "", "database path (overrides database.path)")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	v, err := loadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *printConfig {
		if err := config.Dump(v, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(v, logger); err != nil {
		logger.Fatal("autofleet server failed", zap.Error(err))
	}
}

// loadConfig reads the configuration and lets explicitly set flags override
// the matching keys.
func loadConfig(path string, fs *pflag.FlagSet) (*viper.Viper, error) {
	v, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		"server.host":   "host",
		"server.port":   "port",
		"database.path": "db",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return v, nil
}

func run(v *viper.Viper, logger *zap.Logger) error {
	logger.Info("autofleet server starting", zap.String("version", version.Short()))

	db, err := store.New(v.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Compile-time composition: the gateway binds sockets to the fleet
	// registry, so it is registered after fleet and depends on it.
	fleetMod := fleet.New(db, prometheus.DefaultRegisterer)
	registry := plugin.NewRegistry(logger)
	for _, p := range []plugin.Plugin{
		fleetMod,
		gateway.New(fleetMod, db, prometheus.DefaultRegisterer),
	} {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register plugin: %w", err)
		}
	}

	if err := registry.InitAll(config.New(v)); err != nil {
		return fmt.Errorf("initialize plugins: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.StartAll(ctx); err != nil {
		registry.StopAll()
		return fmt.Errorf("start plugins: %w", err)
	}

	addr := net.JoinHostPort(v.GetString("server.host"), v.GetString("server.port"))
	srv := server.New(addr, registry, nil, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("autofleet server ready", zap.String("addr", addr))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	registry.StopAll()

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	logger.Info("autofleet server stopped")
	return nil
}
