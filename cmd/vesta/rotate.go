package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
	"meridian-hq/vesta/pkg/store"
)

var rotateFlags struct {
	grace time.Duration
	poll  time.Duration
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <namespace/key@environment>",
	Short: "Rotate a secret through the dual-validity state machine",
	Long: `Rotate a secret: generate a new value, store it as a new version,
keep both versions valid for the grace period, then retire the old
version. A failed health check rolls back to the old version.

Examples:
  vesta rotate app/db/password@production
  vesta rotate app/db/password@production --grace 1m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secretID := args[0]
		ns, key, env, err := parseSecretID(secretID)
		if err != nil {
			return err
		}

		e, err := buildEngine(cfgFile)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()

		var oldVersion int64
		current, err := e.store.Read(ctx, ns, key, env, store.LatestVersion)
		switch {
		case err == nil && !current.Tombstone():
			oldVersion = current.Version
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return cli.NewCommandError("rotate", err)
		}

		if _, err := e.rotator.Begin(ctx, secretID, oldVersion, rotateFlags.grace); err != nil {
			return cli.NewCommandError("rotate", err)
		}

		rot, err := e.rotator.Run(ctx, secretID, rotateFlags.poll)
		if err != nil {
			return cli.NewCommandError("rotate", err)
		}

		fmt.Printf("%s: %s (old v%d, new v%d)\n", secretID, rot.State, rot.OldVersion, rot.NewVersion)
		if rot.LastError != "" {
			fmt.Printf("cause: %s\n", rot.LastError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)

	rotateCmd.Flags().DurationVar(&rotateFlags.grace, "grace", 30*time.Second, "dual-validity grace period")
	rotateCmd.Flags().DurationVar(&rotateFlags.poll, "poll", time.Second, "poll interval while waiting out the grace period")
}
