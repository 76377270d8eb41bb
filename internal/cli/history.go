package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/history"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// ActionDetail is one Action with its touched entities, as shown by
// "history <id>".
type ActionDetail struct {
	*history.Action
	Entities []TouchedEntity `json:"touched"`
	// Inverse is the kind's custom inverse, when it declares one.
	Inverse *InverseOutput `json:"inverse,omitempty"`
}

// TouchedEntity is a touched-link with its change-detail map.
type TouchedEntity struct {
	EntityID string      `json:"entityId"`
	Details  ir.IRObject `json:"details"`
}

// InverseOutput is a custom inverse Action.
type InverseOutput struct {
	Kind string      `json:"type"`
	Data ir.IRObject `json:"data"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [action-id]",
		Short: "List recorded Actions, or show one in detail",
		Long: `Without arguments, list recorded Actions newest first. With an Action id,
show its input, result, touched entities and change details.

Examples:
  actiongraph history --limit 10
  actiongraph history 0190f3c2-... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showAction(opts, args[0], cmd)
			}
			return listActions(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of Actions to list (0 for all)")

	return cmd
}

func listActions(opts *HistoryOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	var actions []*history.Action
	err = a.store.View(cmd.Context(), func(r store.Reader) error {
		var err error
		actions, err = history.ListActions(cmd.Context(), r, opts.Limit)
		return err
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	return opts.formatter(cmd).Success(actions, func(w io.Writer) {
		if len(actions) == 0 {
			fmt.Fprintln(w, "No actions recorded.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tTIMESTAMP\tTOOK\tSTATUS")
		for _, act := range actions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", act.ID, act.Kind, act.Timestamp, act.TookMs, actionStatus(act))
		}
		tw.Flush()
	})
}

func showAction(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	f := opts.formatter(cmd)
	var act *history.Action
	err = a.store.View(cmd.Context(), func(r store.Reader) error {
		var err error
		act, err = history.ReadAction(cmd.Context(), r, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, history.ErrNotAction) {
		if werr := f.Error("NOT_FOUND", fmt.Sprintf("no action %q", id), nil); werr != nil {
			return werr
		}
		return WrapExitError(ExitFailure, "no such action", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read action", err)
	}

	detail := ActionDetail{Action: act, Entities: make([]TouchedEntity, 0, len(act.Touched))}
	for _, link := range act.Touched {
		detail.Entities = append(detail.Entities, TouchedEntity{EntityID: link.EntityID, Details: link.Details})
	}
	inv, ok, err := a.registry.Invert(act.AsInput(), act.Result)
	if err != nil && !errors.Is(err, action.ErrUnknownKind) {
		return WrapExitError(ExitFailure, "failed to compute inverse", err)
	}
	if ok {
		detail.Inverse = &InverseOutput{Kind: inv.Kind, Data: inv.Data}
	}

	return f.Success(detail, func(w io.Writer) {
		renderAction(w, detail)
	})
}

func actionStatus(act *history.Action) string {
	switch {
	case act.RevertedBy != "":
		return "reverted by " + act.RevertedBy
	case act.DeletedNodesCount > 0:
		return "irreversible"
	case act.Reverts != "":
		return "reverts " + act.Reverts
	}
	return "-"
}

func renderAction(w io.Writer, d ActionDetail) {
	input, _ := ir.CanonicalString(d.Input)
	result, _ := ir.CanonicalString(d.Result)

	fmt.Fprintf(w, "Action:    %s\n", d.ID)
	fmt.Fprintf(w, "Type:      %s\n", d.Kind)
	fmt.Fprintf(w, "Actor:     %s\n", d.ActorID)
	fmt.Fprintf(w, "Timestamp: %s (%dms)\n", d.Timestamp, d.TookMs)
	fmt.Fprintf(w, "Input:     %s\n", input)
	fmt.Fprintf(w, "Result:    %s\n", result)
	fmt.Fprintf(w, "Status:    %s\n", actionStatus(d.Action))
	if d.DeletedNodesCount > 0 {
		fmt.Fprintf(w, "Permanently deleted: %d\n", d.DeletedNodesCount)
	}
	if d.Inverse != nil {
		data, _ := ir.CanonicalString(d.Inverse.Data)
		fmt.Fprintf(w, "Inverse:   %s %s\n", d.Inverse.Kind, data)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Touched (%d):\n", len(d.Entities))
	for _, e := range d.Entities {
		fmt.Fprintf(w, "  %s\n", e.EntityID)
		for _, key := range e.Details.SortedKeys() {
			v, _ := ir.CanonicalString(e.Details[key])
			fmt.Fprintf(w, "    %s = %s\n", key, v)
		}
	}
}
