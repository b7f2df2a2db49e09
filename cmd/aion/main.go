// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

// Package main provides the aion host CLI.
//
// # Basic Usage
//
// Chat with the configured character:
//
//	aion chat --config aion.yaml --character eliza.yaml
//
// Inspect and call a bridge worker declared under plugins:
//
//	aion plugin inspect weather
//	aion plugin call weather GET_WEATHER "Barcelona"
//
// Print the effective configuration:
//
//	aion config --set llm.provider=mock
//
// Every config key can also be set with an AION_ environment variable, for
// example AION_LLM_PROVIDER=mock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	profile    string
	sets       []string
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "aion",
		Short: "Aion - agent runtime host",
		Long: `Aion hosts a character-driven agent runtime.

It loads a character, binds a model backend, starts bridge workers and
MCP servers as plugins, and runs messages through the agent pipeline.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file")
	pf.StringVar(&flags.profile, "profile", "", "Configuration profile overlay (config.<profile>.yaml)")
	pf.StringArrayVar(&flags.sets, "set", nil, "Override a config key (key=value), repeatable")

	rootCmd.AddCommand(
		buildConfigCmd(flags),
		buildPluginCmd(flags),
		buildChatCmd(flags),
	)
	return rootCmd
}
