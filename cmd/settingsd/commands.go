package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/settings"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the JSON value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				v, ok := s.Get(args[0])
				if !ok {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var asString bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting to a JSON value",
		Long: `Set a setting to a JSON value.

Examples:
  settingsd set DarkMode true
  settingsd set menuorder '["home","timetable"]'
  settingsd set selectedTheme ocean --string`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			var value any = args[1]
			if !asString {
				if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
					return fmt.Errorf("value for %q is not valid JSON (use --string for plain text): %w", key, err)
				}
			}
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				return s.Set(key, value)
			})
		},
	}
	cmd.Flags().BoolVar(&asString, "string", false, "store the value as a plain string")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Remove settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				for _, key := range args {
					if err := s.Delete(key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				all := s.All()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), all)
				}
				keys := lo.Keys(all)
				slices.Sort(keys)
				for _, k := range keys {
					data, err := json.Marshal(all[k])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, data)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the namespace as one JSON object")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var clearOthers bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Write the default values over the stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				defaults := models.DefaultValues()
				if clearOthers {
					if err := replaceAll(s, defaults); err != nil {
						return err
					}
				} else if err := s.SetMany(defaults); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d settings\n", len(defaults))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearOthers, "clear", false, "also remove settings that have no default")
	return cmd
}

// replaceAll makes the namespace equal to ns.
func replaceAll(s *settings.Store, ns models.Namespace) error {
	for _, k := range lo.Without(lo.Keys(s.All()), lo.Keys(ns)...) {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return s.SetMany(ns)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
