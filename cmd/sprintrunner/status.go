package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the running batch recorded in the state store, or idle when none is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStatus(cmd, cfg)
		},
	}
	registerConfigFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, cfg runtimeConfig) error {
	ctx := cmd.Context()
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.close(ctx)

	active, ok, err := sys.store.ActiveBatch(ctx)
	if err != nil {
		return fmt.Errorf("look up active batch: %w", err)
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), `{"status":"idle"}`)
		return nil
	}

	data, err := json.MarshalIndent(active, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
