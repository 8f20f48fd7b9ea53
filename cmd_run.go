package main

import (
	"github.com/spf13/cobra"

	"julius/config"
	"julius/model"
)

func newRunCmd(a *app) *cobra.Command {
	var opts exchangeOptions

	cmd := &cobra.Command{
		Use:   "run [flags] <conversation.yaml>",
		Short: "Send a scripted conversation",
		Long: `Send every user message of a YAML conversation script, in order, within one
session. File paths resolve relative to the script.

  model: gpt-4o
  messages:
    - content: Load the attached sales data
      files: [sales.csv]
    - content: Which region grew fastest?
      advanced_reasoning: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := model.LoadConversation(config.ExpandPath(args[0]))
			if err != nil {
				return err
			}
			if opts.model == "" {
				opts.model = conv.Model
			}
			if opts.session == "" {
				opts.session = conv.SessionID
			}
			return a.runExchange(cmd.Context(), conv.Messages, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}
