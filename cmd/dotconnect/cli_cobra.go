package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "dotconnect",
		Short: "WhatsApp conversational agent gateway with sessions, intents, and voice calls",
		Long: strings.TrimSpace(`dotconnect is a WhatsApp front end for a conversational agent.

It manages user sessions over a durable store, routes each message by
intent (voice call, introduction, or chat), and ships finished session
transcripts downstream.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.dotconnect config and state directories",
		Example: "  dotconnect onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the webhook gateway, session reaper, and notifier",
		Long:    "Start the HTTP gateway, the WhatsApp channel, the idle-session reaper, and the transcript notifier with side-queue replay.",
		Example: "  dotconnect serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		name  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive local session against the full pipeline",
		Long:  "Chat with the agent in the terminal. Messages flow through the same session manager and intent router as WhatsApp traffic.",
		Example: strings.Join([]string{
			"  dotconnect chat",
			"  dotconnect chat --name Ada",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd(name, debug)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "you", "Display name for the local chat user")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  dotconnect status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotconnect version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
