package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"julius/config"
	"julius/model"
	"julius/ui"
)

type exchangeOptions struct {
	model   string
	session string
	raw     bool
	copy    bool
	strict  bool
}

func (o *exchangeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.model, "model", "m", "", "Model to use (loose names like 'sonnet' are matched)")
	cmd.Flags().StringVar(&o.session, "session", "", "Continue an existing session id instead of starting one")
	cmd.Flags().BoolVar(&o.raw, "raw", false, "Stream plain text as it arrives instead of rendering markdown")
	cmd.Flags().BoolVar(&o.copy, "copy", false, "Copy the answer to the clipboard")
	cmd.Flags().BoolVar(&o.strict, "strict", false, "Fail when a response stream is cut off mid-fragment")
}

func newAskCmd(a *app) *cobra.Command {
	var (
		opts      exchangeOptions
		files     []string
		reasoning bool
	)

	cmd := &cobra.Command{
		Use:   "ask [flags] <question>",
		Short: "Ask a question, optionally about attached files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			sources := make([]model.FileSource, 0, len(files))
			for _, f := range files {
				sources = append(sources, model.LocalFile(config.ExpandPath(f)))
			}
			msg := model.UserMessage(question, sources...)
			msg.AdvancedReasoning = reasoning

			return a.runExchange(cmd.Context(), []model.Message{msg}, opts)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Attach a data file (repeatable)")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "Request advanced reasoning")
	return cmd
}

// runExchange sends messages through a recorded orchestrator and prints the answer.
func (a *app) runExchange(ctx context.Context, messages []model.Message, opts exchangeOptions) error {
	backend, err := a.newBackend()
	if err != nil {
		return err
	}

	ocfg := model.OrchestratorConfig{
		Policy: model.Policy{
			AttachmentConcurrency: a.cfg.AttachmentConcurrency,
			StrictTruncation:      a.cfg.StrictTruncation || opts.strict,
		},
		Logger: a.log.Named("exchange"),
	}
	if hs, err := a.openHistory(); err != nil {
		a.log.Warn("exchange history disabled", zap.Error(err))
	} else {
		defer hs.Close()
		ocfg.Recorder = hs
	}

	req := model.Request{
		ModelHint: a.resolveModel(opts.model),
		Messages:  messages,
	}
	if opts.session != "" {
		req.Session = model.Session{ID: opts.session}
	}
	if opts.raw {
		req.OnFragment = func(_ int, f model.Fragment) {
			if f.HasContent {
				io.WriteString(a.out, f.Content)
			}
		}
	}

	c, err := model.NewOrchestrator(backend, ocfg).Completion(ctx, req)
	if err != nil {
		if opts.raw {
			fmt.Fprintln(a.out)
		}
		return err
	}

	switch {
	case !opts.raw:
		fmt.Fprintln(a.out, ui.RenderMarkdown(c.Content, termWidth()))
	case c.Content != "" && !strings.HasSuffix(c.Content, "\n"):
		fmt.Fprintln(a.out)
	}

	for _, w := range c.Warnings {
		fmt.Fprintln(a.errOut, ui.FormatWarning(w))
	}
	if opts.copy {
		if err := ui.CopyToClipboard(c.Content); err != nil {
			fmt.Fprintln(a.errOut, ui.WarningStyle.Render("warning: "+err.Error()))
		}
	}
	fmt.Fprintln(a.errOut, ui.DimStyle.Render(fmt.Sprintf("session %s  exchange %s", c.SessionID, shortID(c.ExchangeID))))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
