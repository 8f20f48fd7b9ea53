package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"julius/config"
	"julius/model"
	"julius/provider"
	"julius/storage"
	"julius/ui"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

// app carries state shared by every subcommand.
type app struct {
	verbose bool
	apiKey  string

	cfg *config.Config
	log *zap.Logger

	out    io.Writer
	errOut io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "julius",
		Short: "Ask questions about your data from the terminal",
		Long: `julius sends questions and data files to the Julius analysis service and
streams the answers back. Every exchange is kept in a local history that can
be listed, searched and exported.

Quick Start:
  julius config set-key                      # store your API key
  julius ask -f sales.csv "Plot revenue"     # ask with an attachment
  julius run analysis.yaml                   # replay a scripted conversation
  julius history                             # list recent exchanges`,
		Version:       fmt.Sprintf("%s (%s)", Version, License),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg

			log, err := config.InitDebugLog(cfg.DataDir(), a.verbose)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", "", "API key (overrides JULIUS_API_KEY and the credential store)")

	root.AddCommand(
		newAskCmd(a),
		newRunCmd(a),
		newHistoryCmd(a),
		newShowCmd(a),
		newSearchCmd(a),
		newExportCmd(a),
		newConfigCmd(a),
	)
	return root
}

// newBackend builds the Julius client from the loaded configuration.
func (a *app) newBackend() (model.Backend, error) {
	key, err := config.ResolveAPIKey(a.cfg, a.apiKey)
	if err != nil {
		return nil, err
	}

	return provider.NewProvider(provider.Config{
		Type: provider.ProviderTypeJulius,
		Client: provider.ClientConfig{
			BaseURL:          a.cfg.BaseURL,
			Origin:           a.cfg.Origin,
			APIKey:           key,
			RequestTimeout:   a.cfg.RequestTimeout,
			ServerType:       a.cfg.ServerType,
			ChatMode:         a.cfg.ChatMode,
			ClientVersion:    a.cfg.ClientVersion,
			Theme:            a.cfg.Theme,
			DataframeFormat:  a.cfg.DataframeFormat,
			MaxFragmentBytes: a.cfg.MaxFragmentBytes,
			Logger:           a.log.Named("provider"),
		},
	})
}

func (a *app) openHistory() (*storage.HistoryStore, error) {
	hs, err := storage.OpenHistoryStore(config.GetHistoryDBPath(a.cfg.DataDir()), a.log.Named("history"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return hs, nil
}

// resolveModel maps a loose --model value onto a known model name.
func (a *app) resolveModel(hint string) string {
	if hint == "" {
		hint = a.cfg.DefaultModel
	}
	resolved, matched := config.ResolveModel(hint, a.cfg.KnownModels)
	if !matched && hint != "" {
		a.log.Debug("unknown model, passing through", zap.String("model", hint))
	} else if resolved != hint {
		a.log.Debug("model resolved", zap.String("hint", hint), zap.String("model", resolved))
	}
	if resolved == model.DefaultProvider {
		return ""
	}
	return resolved
}

// termWidth reads COLUMNS, falling back to the renderer default.
func termWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return ui.DefaultWidth
}
