package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/obd2diag/elmcore/pkg/config"
	"github.com/obd2diag/elmcore/pkg/elm327"
	"github.com/obd2diag/elmcore/pkg/niroev"
	"github.com/obd2diag/elmcore/pkg/uds"
)

var readSOCCmd = &cobra.Command{
	Use:   "read-soc",
	Short: "Initialize the adapter and print Kia Niro EV battery State of Charge",
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

		if period := conf.TesterPresentPeriod(); period > 0 {
			eng.StartTesterPresent(period)
			defer eng.StopTesterPresent()
		}

		bms := niroev.New(uds.New(eng))
		soc, err := bms.GetSOC(ctx)
		if err != nil {
			return err
		}

		color.New(color.FgCyan).Printf("SOC: ")
		fmt.Printf("%.1f%%\n", soc)
		return nil
	},
}
