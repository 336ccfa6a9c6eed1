package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		if c.Session() == "" {
			return errNotSignedIn
		}
		notes, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREV\tUPDATED\tTITLE")
		for _, n := range notes {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", n.ID, n.Revision, n.UpdatedAt.Local().Format("2006-01-02 15:04"), n.Title)
		}
		return tw.Flush()
	},
}
