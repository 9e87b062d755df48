package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
	"meridian-hq/vesta/pkg/store"
)

var getFlags struct {
	environment string
	actor       string
	output      string
	reveal      bool
}

var getCmd = &cobra.Command{
	Use:   "get <namespace> <key>",
	Short: "Resolve a configuration value",
	Long: `Resolve a configuration value through the environment inheritance
chain. Secrets are printed masked unless --reveal is given.

Examples:
  vesta get app/web timeout --env production
  vesta get app/db password --env production --reveal`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(getFlags.output)
		if err != nil {
			return err
		}

		e, err := buildEngine(cfgFile)
		if err != nil {
			return err
		}
		defer e.Close()

		resolved, err := e.resolver.Resolve(cmd.Context(), args[0], args[1], getFlags.environment, getFlags.actor)
		if err != nil {
			return cli.NewCommandError("get", err)
		}

		value := renderValue(resolved.Value, resolved.Secret, getFlags.reveal)

		if format == cli.FormatJSON {
			return cli.WriteJSON(os.Stdout, map[string]any{
				"namespace":          resolved.Namespace,
				"key":                resolved.Key,
				"environment":        resolved.Environment,
				"source_environment": resolved.SourceEnvironment,
				"version":            resolved.Version,
				"value":              value,
				"secret":             resolved.Value.IsSecret(),
			})
		}

		fmt.Println(value)
		if resolved.SourceEnvironment != resolved.Environment {
			fmt.Fprintf(os.Stderr, "(inherited from %s, version %d)\n",
				resolved.SourceEnvironment, resolved.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getFlags.environment, "env", "e", "production", "environment to resolve in")
	getCmd.Flags().StringVar(&getFlags.actor, "actor", "cli", "actor recorded in the audit trail")
	getCmd.Flags().StringVarP(&getFlags.output, "output", "o", "text", "output format (text, json)")
	getCmd.Flags().BoolVar(&getFlags.reveal, "reveal", false, "print decrypted secret values")
}

// renderValue formats a resolved value for display.
func renderValue(v store.Value, secret []byte, reveal bool) string {
	switch v.Kind {
	case store.KindString:
		return v.Str
	case store.KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case store.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case store.KindStructured:
		return string(v.Structured)
	case store.KindSecret:
		if reveal {
			return string(secret)
		}
		return "********"
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}
