package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/obd2diag/elmcore/pkg/transport/ble"
)

var discoverScanSeconds int

var discoverBLECmd = &cobra.Command{
	Use:   "discover-ble",
	Short: "Scan for nearby BLE adapters matching known OBD dongle names",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := ble.DiscoverOBDDevices(bluetooth.DefaultAdapter, time.Duration(discoverScanSeconds)*time.Second)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no matching devices found")
			return nil
		}
		bold := color.New(color.Bold)
		for _, d := range devices {
			bold.Printf("%s", d.Name)
			fmt.Printf("  %s  rssi=%d\n", d.Address, d.RSSI)
		}
		return nil
	},
}

func init() {
	discoverBLECmd.Flags().IntVarP(&discoverScanSeconds, "seconds", "s", 5, "scan duration in seconds")
}
