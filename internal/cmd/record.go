package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/bibupload/internal/storage"
)

func newRecordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and delete stored records",
	}
	cmd.AddCommand(newRecordShowCmd(a))
	cmd.AddCommand(newRecordDeleteCmd(a))
	cmd.AddCommand(newRecordFindCmd(a))
	return cmd
}

func newRecordShowCmd(a *app) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "show <recid>",
		Short: "Print the stored MARC-XML of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recID, err := parseRecID(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if history {
				entries, err := store.ListHistory(ctx, recID)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, styleDim.Render("No history."))
					return nil
				}
				t := &table{header: []string{"DATE", "TASK", "USER", "DETAILS"}}
				for _, e := range entries {
					t.add(
						time.UnixMilli(e.JobDateUnixMs).Format("2006-01-02 15:04:05"),
						fmt.Sprintf("#%d", e.JobID),
						e.JobPerson,
						e.JobDetails,
					)
				}
				t.render(out, termWidth())
				return nil
			}

			xm, err := store.GetFormat(ctx, nil, recID, storage.FormatXM)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(xm))
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list the upload history instead")
	return cmd
}

func newRecordDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recid>",
		Short: "Delete a record and its formats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recID, err := parseRecID(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRecord(cmd.Context(), recID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %d deleted.\n", recID)
			return nil
		},
	}
}

func newRecordFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <tag> <code> <value>",
		Short: "Find records by exact field value",
		Long: `Find records having a field with the exact value.

Use "-" as code to match a control field.

Examples:
  bibupload record find 100 a "Doe, J"
  bibupload record find 001 - 96013`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[1]
			if code == "-" {
				code = ""
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.FindRecords(cmd.Context(), args[0], code, args[2])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, styleDim.Render("No records."))
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}
