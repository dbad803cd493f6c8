package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/kbridge/internal/link/goble"
	"github.com/srg/kbridge/internal/scanner"
	"golang.org/x/term"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby BLE devices",
	Long: `Scans for BLE advertisements and lists the devices seen, strongest
signal first. Devices whose name matches an accepted keyboard variant are
highlighted.

Examples:
  kbridge scan
  kbridge scan --duration 30s`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 10*time.Second, "Scan duration")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
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
		cancel()
	}()

	central := goble.NewCentral(cfg.ConnectTimeout, logger)
	sc := scanner.New(central, cfg.DeviceNames, logger)

	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", scanDuration)
	devices, err := sc.Scan(ctx, scanDuration)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))
	keyboard := color.New(color.FgGreen, color.Bold)

	fmt.Printf("%-20s %-24s %6s\n", "ADDRESS", "NAME", "RSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		line := fmt.Sprintf("%-20s %-24s %6d", d.Addr.MAC(), name, d.RSSI)
		if d.Keyboard {
			keyboard.Println(line)
		} else {
			fmt.Println(line)
		}
	}
	fmt.Fprintf(os.Stderr, "%d devices found\n", len(devices))
	return nil
}
