package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pulselink/pulselink/internal/config"
	"github.com/pulselink/pulselink/internal/link"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for nearby Bluetooth Low Energy devices and list their names,
addresses and signal strength. Use it to confirm the oximeter is advertising
before running 'pulselink collect'.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
}

func runScan(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	devices, err := link.NewScanner(logger).Scan(ctx, scanDuration)
	if err != nil {
		return err
	}

	return displayDevices(devices, cfg.DeviceName)
}

func displayDevices(devices []link.DeviceInfo, targetName string) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	target := color.New(color.FgGreen, color.Bold)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unnamed)"
		} else if len(name) > 24 {
			name = name[:21] + "..."
		}
		if dev.Name == targetName {
			name = target.Sprint(name)
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%t\n", name, dev.Address, dev.RSSI, dev.Connectable)
	}

	return w.Flush()
}
