package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
)

var historyFlags struct {
	environment string
	actor       string
	output      string
}

var historyCmd = &cobra.Command{
	Use:   "history <namespace> <key>",
	Short: "Show the version history of a configuration entry",
	Long: `Show the full append-only version history of an entry, oldest
first, including tombstones and restores.

Examples:
  vesta history app/web timeout --env production
  vesta history app/db password --env production -o json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(historyFlags.output)
		if err != nil {
			return err
		}

		e, err := buildEngine(cfgFile)
		if err != nil {
			return err
		}
		defer e.Close()

		history, err := e.resolver.History(cmd.Context(), args[0], args[1], historyFlags.environment, historyFlags.actor)
		if err != nil {
			return cli.NewCommandError("history", err)
		}

		if format == cli.FormatJSON {
			return cli.WriteJSON(os.Stdout, history)
		}

		rows := [][]string{{"VERSION", "CHANGE", "AUTHOR", "CREATED", "DETAIL"}}
		for _, cv := range history {
			detail := cv.Description
			if cv.RestoreOf != 0 {
				detail = fmt.Sprintf("restores v%d", cv.RestoreOf)
			} else if cv.Value.IsSecret() {
				detail = "sealed"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", cv.Version),
				string(cv.ChangeType),
				cv.Author,
				cv.CreatedAt.Format(time.RFC3339),
				detail,
			})
		}
		return cli.Table(os.Stdout, rows)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyFlags.environment, "env", "e", "production", "environment")
	historyCmd.Flags().StringVar(&historyFlags.actor, "actor", "cli", "actor recorded in the audit trail")
	historyCmd.Flags().StringVarP(&historyFlags.output, "output", "o", "text", "output format (text, json)")
}
