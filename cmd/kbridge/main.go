package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kbridge",
	Short: "BLE keyboard to USB HID bridge",
	Long: `Bridges a wireless BLE keyboard to a wired host:

- Scans for the keyboard by advertised name and connects
- Resolves the HID service and report characteristic over GATT
- Forwards boot-protocol reports to a USB HID gadget or a PTY
- Reconnects automatically after any link loss
- Remembers the paired keyboard across restarts

Designed for single-board hosts exposing a USB gadget function.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(unpairCmd)
	rootCmd.AddCommand(descriptorCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
}
