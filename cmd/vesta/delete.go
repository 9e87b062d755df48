package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
)

var deleteFlags struct {
	environment string
	actor       string
}

var deleteCmd = &cobra.Command{
	Use:   "delete <namespace> <key>",
	Short: "Delete a configuration entry",
	Long: `Delete an entry in one environment by appending a tombstone
version. History remains readable, and a value inherited from a
parent environment becomes visible again.

Examples:
  vesta delete app/web timeout --env production`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine(cfgFile)
		if err != nil {
			return err
		}
		defer e.Close()

		version, err := e.resolver.Delete(cmd.Context(), args[0], args[1],
			deleteFlags.environment, deleteFlags.actor)
		if err != nil {
			return cli.NewCommandError("delete", err)
		}

		fmt.Printf("%s/%s@%s deleted at version %d\n",
			args[0], args[1], deleteFlags.environment, version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().StringVarP(&deleteFlags.environment, "env", "e", "production", "environment")
	deleteCmd.Flags().StringVar(&deleteFlags.actor, "actor", "cli", "actor recorded in the audit trail")
}
