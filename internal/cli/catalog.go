package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/actiongraph/internal/catalog"
	"github.com/roach88/actiongraph/internal/store"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the franchise and movie catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "franchises",
		Short: "List live franchises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listFranchises(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "movies",
		Short: "List live movies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listMovies(rootOpts, cmd)
		},
	})

	return cmd
}

func listFranchises(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	var out []catalog.Franchise
	err = a.store.View(cmd.Context(), func(r store.Reader) error {
		var err error
		out, err = catalog.Franchises(cmd.Context(), r)
		return err
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list franchises", err)
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if len(out) == 0 {
			fmt.Fprintln(w, "No franchises.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SLUG\tNAME")
		for _, f := range out {
			fmt.Fprintf(tw, "%s\t%s\n", f.SlugID, f.Name)
		}
		tw.Flush()
	})
}

func listMovies(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	var out []catalog.Movie
	err = a.store.View(cmd.Context(), func(r store.Reader) error {
		var err error
		out, err = catalog.Movies(cmd.Context(), r)
		return err
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list movies", err)
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if len(out) == 0 {
			fmt.Fprintln(w, "No movies.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TITLE\tYEAR\tFRANCHISE")
		for _, m := range out {
			franchise := "-"
			if m.Franchise != nil {
				franchise = m.Franchise.SlugID
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", m.Title, m.Year, franchise)
		}
		tw.Flush()
	})
}
