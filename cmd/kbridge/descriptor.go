package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/kbridge/internal/hid"
)

// descriptorCmd represents the descriptor command
var descriptorCmd = &cobra.Command{
	Use:   "descriptor",
	Short: "Print the boot-keyboard HID report descriptor",
	Long: `Prints the report descriptor the USB gadget function must be
provisioned with. Use --raw to emit the binary form directly:

  kbridge descriptor --raw > /sys/kernel/config/usb_gadget/kbridge/functions/hid.usb0/report_desc`,
	Args: cobra.NoArgs,
	RunE: runDescriptor,
}

var descriptorRaw bool

func init() {
	descriptorCmd.Flags().BoolVar(&descriptorRaw, "raw", false, "Emit raw bytes instead of hex")
}

func runDescriptor(_ *cobra.Command, _ []string) error {
	if descriptorRaw {
		_, err := os.Stdout.Write(hid.ReportDescriptor)
		return err
	}

	for i, b := range hid.ReportDescriptor {
		if i > 0 {
			if i%8 == 0 {
				fmt.Println()
			} else {
				fmt.Print(" ")
			}
		}
		fmt.Printf("%02x", b)
	}
	fmt.Println()
	return nil
}
