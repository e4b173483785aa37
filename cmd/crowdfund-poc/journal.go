package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-crowdfund/pkg/journal"
)

func newJournalCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := journal.DefaultConfig(path)
			cfg.ReadOnly = true
			j, err := journal.Open(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tLABEL\tRESULT\tCU\tSIGNATURE")
			err = j.Iterate(func(e *journal.Entry) error {
				result := "ok"
				if !e.Success {
					result = e.Error
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
					e.Seq, e.RecordedAt.Format("2006-01-02T15:04:05Z"), e.Label, result, e.ComputeUnits, e.Signature)
				return nil
			})
			if err != nil {
				return err
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&path, "journal", "crowdfund-journal.db", "Journal file")
	return cmd
}
