package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lostfound/cmd/internal/app"
	"lostfound/cmd/internal/auth"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "lostfound",
		Short:         "Lost-and-found messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(
		newServeCmd(&envFiles),
		newMigrateCmd(&envFiles),
		newWorkerCmd(&envFiles),
		newKeygenCmd(),
		newTokenCmd(&envFiles),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and realtime gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := app.Bootstrap(*envFiles...)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return app.Serve(ctx, cfg, log)
		},
	}
}

func newMigrateCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := app.Bootstrap(*envFiles...)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return app.Migrate(ctx, cfg, log, false, 0)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := app.Bootstrap(*envFiles...)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return app.Migrate(ctx, cfg, log, true, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func newWorkerCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume message notification tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := app.Bootstrap(*envFiles...)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return app.Worker(ctx, cfg, log)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a PASETO v4 key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, public := auth.GenerateKeyHex()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "LOSTFOUND_PASETO_V4_SECRET_KEY_HEX=%s\n", secret)
			fmt.Fprintf(out, "LOSTFOUND_PASETO_V4_PUBLIC_KEY_HEX=%s\n", public)
			return nil
		},
	}
}

func newTokenCmd(envFiles *[]string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user (development tooling)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.LoadDotEnv(*envFiles...); err != nil {
				return err
			}
			cfg, err := auth.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			tm, err := auth.NewTokenManager(cfg)
			if err != nil {
				return err
			}
			tok, exp, err := tm.Issue(userID, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the token subject")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
