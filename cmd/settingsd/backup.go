package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/betterseqta/settings-go/internal/maintenance"
	"github.com/betterseqta/settings-go/internal/settings"
)

func newBackupCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of the settings to the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.cfg.BackupDir()
			if list {
				files, err := maintenance.ListBackups(dir)
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			}
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				file, err := maintenance.New(s, dir, 0, a.cfg.Backup.Retain).RunBackupNow()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), file)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing backups instead of creating one")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the settings with the contents of a backup",
		Long: `Replace the settings with the contents of a backup.

A bare file name is looked up in the backup directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if filepath.Base(path) == path {
				path = filepath.Join(a.cfg.BackupDir(), path)
			}
			b, err := maintenance.LoadBackup(path)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s *settings.Store) error {
				if err := replaceAll(s, b.Settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d settings from %s\n", len(b.Settings), filepath.Base(path))
				return nil
			})
		},
	}
}
