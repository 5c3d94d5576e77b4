package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pulselink/pulselink/internal/config"
	"github.com/pulselink/pulselink/internal/ingest"
	"github.com/pulselink/pulselink/internal/link"
	"github.com/pulselink/pulselink/internal/session"
	"github.com/pulselink/pulselink/internal/store"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Ingest oximeter readings for a new session",
	Long: `Creates a new session, connects to the configured pulse oximeter and
streams decoded readings into the datastore until interrupted.

The session key printed at startup is what a viewer needs to fetch the data:

  pulselink collect
  # Session key: AB12CD
  curl http://localhost:8080/data/AB12CD`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

var (
	collectDeviceName string
)

func init() {
	collectCmd.Flags().StringVar(&collectDeviceName, "device", "", "Advertised device name (overrides config)")
}

func runCollect(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if collectDeviceName != "" {
		cfg.DeviceName = collectDeviceName
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nStopping session...")
		cancel()
	}()

	if err := st.InitSchema(ctx); err != nil {
		return err
	}

	lnk := link.NewBLELink(logger, &link.Options{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		FrameBuffer:    link.DefaultFrameBuffer,
	})

	collector := ingest.NewCollector(
		session.NewClient(cfg.APIURL, logger),
		st,
		st,
		lnk,
		ingest.Options{
			DeviceName:    cfg.DeviceName,
			FlushInterval: cfg.FlushInterval,
			OnSessionReady: func(key string) {
				keyColor := color.New(color.FgGreen, color.Bold)
				fmt.Fprintf(os.Stderr, "Session key: %s\n", keyColor.Sprint(key))
				fmt.Fprintln(os.Stderr, "Share this key with the person viewing the data. Press Ctrl+C to stop...")
			},
		},
		logger,
	)

	return collector.Run(ctx)
}
