// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/aion/pkg/bridge"
	"github.com/jllopis/aion/pkg/config"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/telemetry"
)

// buildPluginCmd creates the "plugin" command group for bridge workers.
func buildPluginCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect and call bridge worker plugins",
		Long: `Start a bridge worker declared under plugins in the configuration, or
given directly with --command, and talk to it outside the agent pipeline.`,
	}
	cmd.AddCommand(
		buildPluginInspectCmd(flags),
		buildPluginCallCmd(flags),
	)
	return cmd
}

type workerFlags struct {
	command string
	args    []string
}

func (w *workerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.command, "command", "", "Worker command to run instead of a configured plugin")
	cmd.Flags().StringArrayVar(&w.args, "arg", nil, "Worker argument, repeatable (with --command)")
}

func buildPluginInspectCmd(flags *globalFlags) *cobra.Command {
	var wf workerFlags
	cmd := &cobra.Command{
		Use:   "inspect [plugin]",
		Short: "Print the manifest a worker reports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			host, err := startWorker(cmd.Context(), flags, wf, name, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer host.Close()
			return printJSON(cmd.OutOrStdout(), host.Manifest())
		},
	}
	wf.register(cmd)
	return cmd
}

func buildPluginCallCmd(flags *globalFlags) *cobra.Command {
	var (
		wf     workerFlags
		params string
	)
	cmd := &cobra.Command{
		Use:   "call <plugin> <action> [text]",
		Short: "Invoke one action of a worker",
		Long: `Invoke one action of a worker with a message carrying text.

Examples:
  aion plugin call weather GET_WEATHER "Barcelona"
  aion plugin call --command ./worker - ECHO "hello" --params '{"loud":true}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name == "-" {
				name = ""
			}
			text := ""
			if len(args) == 3 {
				text = args[2]
			}
			host, err := startWorker(cmd.Context(), flags, wf, name, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer host.Close()
			return callAction(cmd.Context(), cmd.OutOrStdout(), host.Plugin(), args[1], text, params)
		},
	}
	wf.register(cmd)
	cmd.Flags().StringVar(&params, "params", "", "JSON object passed as handler parameters")
	return cmd
}

func startWorker(ctx context.Context, flags *globalFlags, wf workerFlags, name string, logOut io.Writer) (*bridge.Host, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	var bc bridge.Config
	switch {
	case wf.command != "":
		bc = bridgeConfig(config.PluginConfig{Name: name, Command: wf.command, Args: wf.args}, cfg.Bridge)
	default:
		pc, ok := findPlugin(cfg.Plugins, name)
		if !ok {
			return nil, fmt.Errorf("plugin %q is not configured", name)
		}
		bc = bridgeConfig(pc, cfg.Bridge)
	}
	bc.Logger = telemetry.NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	return bridge.Start(ctx, bc)
}

func findPlugin(plugins []config.PluginConfig, name string) (config.PluginConfig, bool) {
	for _, p := range plugins {
		if p.Name == name {
			return p, true
		}
	}
	return config.PluginConfig{}, false
}

func callAction(ctx context.Context, out io.Writer, plugin *core.Plugin, name, text, params string) error {
	var action core.Action
	for _, a := range plugin.Actions {
		if strings.EqualFold(a.Name(), name) {
			action = a
			break
		}
	}
	if action == nil {
		return fmt.Errorf("plugin %s has no action %s", plugin.Name, name)
	}

	opts := core.HandlerOptions{}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &opts.Parameters); err != nil {
			return fmt.Errorf("decode --params: %w", err)
		}
	}
	msg := core.NewMemory("cli", "cli", core.Content{Text: text, Source: "cli"})
	cb := func(_ context.Context, c core.Content) error {
		_, err := fmt.Fprintln(out, c.Text)
		return err
	}
	result, err := action.Handle(ctx, msg, core.NewState(), opts, cb)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
