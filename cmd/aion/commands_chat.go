// Copyright 2026 © The Aion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jllopis/aion/pkg/config"
	"github.com/jllopis/aion/pkg/core"
	"github.com/jllopis/aion/pkg/runtime"
	"github.com/jllopis/aion/pkg/telemetry"
)

// buildChatCmd creates the "chat" command running an interactive loop.
func buildChatCmd(flags *globalFlags) *cobra.Command {
	var (
		characterPath string
		room          string
		timeout       time.Duration
		watch         bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long: `Read messages from stdin, one per line, and print the agent replies.
An empty line is ignored; "exit" or end of input quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if characterPath != "" {
				cfg.Character.Path = characterPath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if watch && flags.configPath != "" {
				w, err := watchConfig(flags, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				w.Start(ctx)
				defer w.Stop()
			}
			if room == "" {
				room = uuid.NewString()
			}
			return chatLoop(ctx, a.runtime, cmd.InOrStdin(), cmd.OutOrStdout(), room, timeout)
		},
	}
	cmd.Flags().StringVar(&characterPath, "character", "", "Character file (overrides character.path)")
	cmd.Flags().StringVar(&room, "room", "", "Room id (random by default)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Per message timeout (0 disables)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload logging settings when the config file changes")
	return cmd
}

// watchConfig reapplies the log settings of the reloaded configuration.
func watchConfig(flags *globalFlags, logOut io.Writer) (*config.Watcher, error) {
	w, err := config.NewWatcher(flags.configPath, config.WithWatchProfile(flags.profile))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)
	})
	return w, nil
}

func chatLoop(ctx context.Context, rt *runtime.Runtime, in io.Reader, out io.Writer, room string, timeout time.Duration) error {
	name := rt.Character().Name
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}

		msg := core.NewMemory("cli-user", room, core.Content{Text: line, Source: "cli"})
		cb := runtime.WithCallback(func(_ context.Context, c core.Content) error {
			if c.Text != "" {
				fmt.Fprintf(out, "%s: %s\n", name, c.Text)
			}
			return nil
		})
		if _, err := rt.HandleMessageWithTimeout(ctx, msg, timeout, cb); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
