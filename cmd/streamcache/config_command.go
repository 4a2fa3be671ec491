package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := [][2]string{
				{"CacheDir", cfg.CacheDir},
				{"Listen", cfg.Listen},
				{"UpstreamTimeout", cfg.UpstreamTimeout.String()},
				{"ReadAhead", strconv.FormatInt(cfg.ReadAhead, 10)},
				{"ChunkSize", strconv.Itoa(cfg.ChunkSize)},
				{"BlockSize", strconv.FormatInt(cfg.BlockSize, 10)},
				{"MaxResponseBytes", strconv.FormatInt(cfg.MaxResponseBytes, 10)},
				{"MetricsPath", cfg.MetricsPath},
				{"LogLevel", cfg.LogLevel},
				{"LogFilePath", cfg.LogFilePath},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([2]string{"Setting", "Value"}, rows))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			// loading already validated it
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	})

	return configCmd
}
