package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"julius/config"
	"julius/ui"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and the stored API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default configuration files if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultSystemConfig(); err != nil {
				return err
			}
			if err := config.CreateDefaultUserConfig(a.cfg.DataDir()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, config.GetSettingsFilePath())
			fmt.Fprintln(a.out, config.GetUserConfigPath(a.cfg.DataDir()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where configuration and data live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := a.cfg.DataDir()
			rows := [][2]string{
				{"settings", config.GetSettingsFilePath()},
				{"config", config.GetUserConfigPath(dataDir)},
				{"data", dataDir},
				{"history", config.GetHistoryDBPath(dataDir)},
				{"exports", config.GetExportDir(dataDir)},
			}
			for _, r := range rows {
				fmt.Fprintf(a.out, "%-9s %s\n", r[0], r[1])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the API key in the credential store (reads stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				fmt.Fprint(a.errOut, "API key: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read API key: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("API key is empty")
			}

			store, err := config.OpenCredentialStore(a.cfg)
			if err != nil {
				return err
			}
			store.Set(config.CredentialAPIKey, key)
			if err := store.Save(a.cfg.DataDir()); err != nil {
				return err
			}
			fmt.Fprintln(a.errOut, ui.DimStyle.Render(fmt.Sprintf("API key saved (%s)", store.Method())))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete-key",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.OpenCredentialStore(a.cfg)
			if err != nil {
				return err
			}
			store.Delete(config.CredentialAPIKey)
			if err := store.Save(a.cfg.DataDir()); err != nil {
				return err
			}
			fmt.Fprintln(a.errOut, ui.DimStyle.Render("API key removed"))
			return nil
		},
	})

	return cmd
}
