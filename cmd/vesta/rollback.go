package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
)

var rollbackFlags struct {
	environment string
	actor       string
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <namespace> <key> <target-version>",
	Short: "Restore an earlier version of a configuration entry",
	Long: `Restore an earlier version by appending a new version carrying the
target version's value. The target version itself is never modified.

Examples:
  vesta rollback app/web timeout 3 --env production`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || target < 1 {
			return fmt.Errorf("invalid target version %q", args[2])
		}

		e, err := buildEngine(cfgFile)
		if err != nil {
			return err
		}
		defer e.Close()

		version, err := e.resolver.Rollback(cmd.Context(), args[0], args[1],
			rollbackFlags.environment, target, rollbackFlags.actor)
		if err != nil {
			return cli.NewCommandError("rollback", err)
		}

		fmt.Printf("%s/%s@%s restored v%d as version %d\n",
			args[0], args[1], rollbackFlags.environment, target, version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().StringVarP(&rollbackFlags.environment, "env", "e", "production", "environment")
	rollbackCmd.Flags().StringVar(&rollbackFlags.actor, "actor", "cli", "actor recorded in the audit trail")
}
