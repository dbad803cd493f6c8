package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/kbridge/internal/bridge"
	"github.com/srg/kbridge/internal/button"
	"github.com/srg/kbridge/internal/groutine"
	"github.com/srg/kbridge/internal/hid"
	"github.com/srg/kbridge/internal/link/goble"
	"github.com/srg/kbridge/internal/pairing"
	"github.com/srg/kbridge/internal/statusled"
	"github.com/srg/kbridge/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	Long: `Runs the bridge: connects to the keyboard, relays HID reports to the
configured sink, and keeps reconnecting across link losses.

SIGUSR1 acts as the pairing button: one signal retries the connection,
two signals within the double-press window forget the stored pairing and
rescan.

Examples:
  # Forward to the USB HID gadget endpoint
  kbridge run

  # Development mode: expose reports on a PTY instead
  kbridge run --sink pty`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var (
	runSinkType string
	runSinkPath string
)

func init() {
	runCmd.Flags().StringVar(&runSinkType, "sink", "", "Report sink: gadget or pty (overrides config)")
	runCmd.Flags().StringVar(&runSinkPath, "sink-path", "", "Gadget endpoint path (overrides config)")
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runSinkType != "" {
		cfg.Sink.Type = runSinkType
	}
	if runSinkPath != "" {
		cfg.Sink.Path = runSinkPath
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	logger.Info("BLE to USB HID bridge starting...")

	sink, cleanup, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var ind statusled.Indicator = statusled.Null{}
	if cfg.LEDPath != "" {
		led, err := statusled.NewSysfsLED(cfg.LEDPath)
		if err != nil {
			return err
		}
		ind = led
	}

	store, err := pairing.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}
	pm := pairing.NewManager(store, logger)
	if err := pm.Load(); err != nil {
		return err
	}

	central := goble.NewCentral(cfg.ConnectTimeout, logger)
	mgr := bridge.NewManager(central, pm, sink, ind, bridge.Options{
		DeviceNames: cfg.DeviceNames,
		Backoff:     cfg.ReconnectBackoff,
		SettleDelay: cfg.SettleDelay,
		StatusTick:  cfg.StatusTick,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	// SIGUSR1 stands in for the pairing button on headless hosts.
	classifier := button.New(cfg.DoublePressWindow, nil, logger)
	pressChan := make(chan os.Signal, 4)
	signal.Notify(pressChan, syscall.SIGUSR1)
	defer signal.Stop(pressChan)
	groutine.Go(ctx, "button-capture", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pressChan:
				classifier.Press()
			}
		}
	})
	groutine.Go(ctx, "button-classifier", func(ctx context.Context) {
		classifier.Run(ctx, mgr)
	})

	err = mgr.Run(ctx)
	if err == context.Canceled {
		logger.Info("Bridge stopped")
		return nil
	}
	return err
}

// buildSink constructs the configured report sink and its cleanup.
func buildSink(cfg *config.Config) (hid.Sink, func(), error) {
	switch cfg.Sink.Type {
	case "gadget":
		s, err := hid.NewGadgetSink(cfg.Sink.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "pty":
		s, err := hid.NewPTYSink(0, nil)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "Reports available on %s\n", s.TTYName())
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink type %q (use gadget or pty)", cfg.Sink.Type)
	}
}
