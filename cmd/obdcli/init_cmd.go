package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/obd2diag/elmcore/pkg/config"
	"github.com/obd2diag/elmcore/pkg/elm327"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Run the adapter reset/configuration handshake and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfigPath(); err != nil {
			return err
		}
		conf, err := config.Load(configPath)
		if err != nil {
			return err
		}

		conn, err := openConnection(conf)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := context.Background()
		if err := conn.Open(ctx); err != nil {
			return err
		}

		eng := elm327.New(conn, conf.CommandTimeout())
		if err := eng.Initialize(ctx); err != nil {
			return err
		}

		color.New(color.FgGreen).Println("adapter initialized")
		return nil
	},
}
