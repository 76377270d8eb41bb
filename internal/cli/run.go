package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/undo"
)

// RunOptions holds flags for the run and undo commands.
type RunOptions struct {
	*RootOptions
	Input string
	Actor string
}

// ActionOutput is the payload of a committed Action.
type ActionOutput struct {
	ActionID string      `json:"actionId"`
	Kind     string      `json:"type"`
	Result   ir.IRObject `json:"result"`
	Touched  []string    `json:"touched"`
	TookMs   int64       `json:"tookMs"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "Run one Action",
		Long: `Run one Action of the given kind in its own transaction. The input is
validated against the kind's schema; nothing is written unless the Action
commits.

Examples:
  actiongraph run CreateFranchise --input '{"id":"mcu","name":"Marvel Cinematic Universe"}'
  actiongraph run CreateMovie --input '{"id":"dune","title":"Dune","year":2021}' --actor system`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInput(args[0], opts.Input)
			if err != nil {
				return err
			}
			return runAction(opts, in, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "{}", "Action input as JSON")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor id or slug (default from config)")

	return cmd
}

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "undo <action-id>",
		Short: "Revert a past Action",
		Long: `Revert a past Action by running the built-in Undo kind. The undo is itself
an Action, so undoing it again is a redo. The undo is refused when the graph
has changed in a way that makes reversal unsafe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, undo.Input(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor id or slug (default from config)")

	return cmd
}

func parseInput(kind, raw string) (action.Input, error) {
	data, err := ir.ParseObject(raw)
	if err != nil {
		return action.Input{}, WrapExitError(ExitCommandError, "invalid --input JSON", err)
	}
	return action.Input{Kind: kind, Data: data}, nil
}

func runAction(opts *RunOptions, in action.Input, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	res, err := a.runner.Run(cmd.Context(), a.actor(opts.Actor), in)
	if err != nil {
		return f.ActionFailed(err)
	}

	out := ActionOutput{
		ActionID: res.ActionID,
		Kind:     in.Kind,
		Result:   res.Data,
		Touched:  res.Touched,
		TookMs:   res.TookMs,
	}
	return f.Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s committed as %s\n", in.Kind, res.ActionID)
		if len(res.Data) > 0 {
			result, _ := ir.CanonicalString(res.Data)
			fmt.Fprintf(w, "  Result:  %s\n", result)
		}
		fmt.Fprintf(w, "  Touched: %s\n", strings.Join(res.Touched, ", "))
	})
}
