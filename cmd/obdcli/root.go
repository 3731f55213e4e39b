// Package main implements obdcli, a command-line client for the elmcore
// diagnostic stack: adapter initialization, a single SOC read, and BLE
// device discovery.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "obdcli",
	Short: "obdcli drives an ELM327-class adapter over serial, RFCOMM, or BLE",
	Long:  "obdcli is a small diagnostic client for the elmcore OBD-II stack: it runs the adapter init handshake, issues UDS reads, and discovers nearby BLE adapters.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "TOML config file (see pkg/config)")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(readSOCCmd)
	rootCmd.AddCommand(discoverBLECmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(replayCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireConfigPath() error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	return nil
}
