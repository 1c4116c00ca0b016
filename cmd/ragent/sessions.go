package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ragent/internal/app"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				infos, err := built.Controller.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSTATUS\tVERSION\tLAST SEQ\tUPDATED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
						info.ID, info.Status, info.Version, info.LastSeq, info.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum sessions to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				snap, err := built.Controller.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			})
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a session so it accepts no further turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				if err := built.Controller.Close(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [id]",
		Short: "Delete one session, or every session when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				if len(args) == 0 {
					n, err := built.Controller.ClearAll(cmd.Context())
					fmt.Fprintf(cmd.OutOrStdout(), "cleared %d sessions\n", n)
					return err
				}
				removed, err := built.Controller.Clear(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("session %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, closeCmd, clearCmd)
	return cmd
}
