package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"julius/config"
	"julius/storage"
	"julius/ui"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded exchanges, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hs.Close()

			list, err := hs.ListExchanges(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, ui.HistoryTable(list, termWidth()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of exchanges (0 for all)")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded exchange (an id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hs.Close()

			ex, err := hs.LoadExchange(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, ui.FormatTranscript(ex, termWidth()))
			return nil
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search recorded messages and replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hs.Close()

			query := strings.Join(args, " ")
			matches, err := hs.SearchExchanges(cmd.Context(), query)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, ui.SearchResults(query, matches, termWidth()))
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> [path]",
		Short: "Export a recorded exchange as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, err := a.openHistory()
			if err != nil {
				return err
			}
			defer hs.Close()

			ex, err := hs.LoadExchange(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			path := storage.GenerateExportPath(config.GetExportDir(a.cfg.DataDir()), ex)
			if len(args) == 2 {
				path = config.ExpandPath(args[1])
			}
			if err := hs.ExportToJSON(cmd.Context(), ex.ID, path); err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
}
