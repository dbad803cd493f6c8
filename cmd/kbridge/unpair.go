package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/kbridge/internal/pairing"
)

// unpairCmd represents the unpair command
var unpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Forget the stored keyboard pairing",
	Long: `Clears the persisted pairing record so the next run pairs with
whatever matching keyboard is found by scanning. The running daemon's
double-press intent (SIGUSR1 twice) does the same without a restart.`,
	Args: cobra.NoArgs,
	RunE: runUnpair,
}

func runUnpair(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	store, err := pairing.NewFileStore(cfg.StateDir)
	if err != nil {
		return err
	}
	pm := pairing.NewManager(store, logger)
	if err := pm.Load(); err != nil {
		return err
	}

	if !pm.Record().Valid {
		fmt.Println("No keyboard is paired")
		return nil
	}

	addr := pm.Record().Identity
	if err := pm.Clear(); err != nil {
		return err
	}
	fmt.Printf("Forgot pairing with %s\n", addr.String())
	return nil
}
