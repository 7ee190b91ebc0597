package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/mediarec/internal/config"
	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/host/ffmpeg"
	"github.com/schovi/mediarec/internal/httpapi"
	"github.com/schovi/mediarec/internal/logging"
	"github.com/schovi/mediarec/internal/spool"
)

var daemonHTTPFlag string

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the mediarec daemon (internal)",
	Hidden: true,
	RunE:   runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonHTTPFlag, "http", "",
		"Serve the HTTP API on this address (overrides daemon.http_addr)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := loader.Current()
	dir := config.Dir()

	logger, err := logging.NewLogger(cfg.Logging.LogDir(), cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Close()

	store, err := newSpool(cfg, dir)
	if err != nil {
		return err
	}

	devices := ffmpeg.New(cfg.FFmpegOptions(logger))

	server, err := daemon.NewServer(
		daemon.WithDevices(devices),
		daemon.WithStore(store),
		daemon.WithDir(dir),
		daemon.WithSlotTTL(cfg.Daemon.SlotTTL),
		daemon.WithLogger(logger),
		daemon.WithSettings(cfg.DaemonSettings()),
	)
	if err != nil {
		return err
	}

	// Capture settings and log level follow config edits. Device and
	// transport settings need a restart.
	loader.Watch(logger, func(c *config.Config) {
		server.SetSettings(c.DaemonSettings())
		logger.SetLevel(c.Logging.Level)
	})

	addr := cfg.Daemon.HTTPAddr
	if daemonHTTPFlag != "" {
		addr = daemonHTTPFlag
	}
	var api *httpapi.Server
	if addr != "" {
		api = httpapi.New(server, httpapi.Options{
			Addr:           addr,
			AllowedOrigins: cfg.Daemon.AllowedOrigins,
			Logger:         logger,
		})
		go func() {
			if err := api.ListenAndServe(); err != nil {
				logger.Error("http api stopped", "error", err.Error())
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("Shutting down daemon...")
		if api != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			api.Shutdown(ctx)
			cancel()
		}
		server.Shutdown()
	}()

	return server.Start()
}

func newSpool(cfg *config.Config, dir string) (spool.Store, error) {
	if cfg.Capture.Spool != config.SpoolFile {
		return spool.NewMemoryStore(), nil
	}
	store, err := spool.NewFileStore(filepath.Join(dir, daemon.SpoolDirName))
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return store, nil
}
