package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the current settings record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSettings(cmd, cfg)
		},
	}
	registerConfigFlags(cmd)
	return cmd
}

func runSettings(cmd *cobra.Command, cfg runtimeConfig) error {
	ctx := cmd.Context()
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.close(ctx)

	data, err := json.MarshalIndent(sys.settings.Get(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
