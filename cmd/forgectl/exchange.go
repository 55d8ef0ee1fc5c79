package main

import (
	"errors"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Inspect the exchange audit log",
}

var exchangeGetCmd = &cobra.Command{
	Use:   "get [exchange-id]",
	Short: "Print one recorded exchange as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runExchangeGet,
}

func init() {
	exchangeCmd.AddCommand(exchangeGetCmd)
}

func runExchangeGet(cmd *cobra.Command, args []string) error {
	if local {
		return errors.New("exchange get reads DynamoDB and cannot run with --local")
	}
	rt, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if rt.store == nil {
		return errors.New("exchange_table is not configured")
	}

	ex, err := rt.store.GetExchange(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(ex); err != nil {
		return err
	}
	return enc.Close()
}
