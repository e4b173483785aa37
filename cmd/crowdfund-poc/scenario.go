package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-crowdfund/pkg/accounts"
	"github.com/fortiblox/x1-crowdfund/pkg/crowdfund"
	"github.com/fortiblox/x1-crowdfund/pkg/journal"
	"github.com/fortiblox/x1-crowdfund/pkg/poc"
)

func newScenarioCmd() *cobra.Command {
	var (
		vulnerable  bool
		dataDir     string
		journalPath string
		showLogs    bool
	)

	names := make([]string, len(poc.Scenarios))
	for i, sc := range poc.Scenarios {
		names[i] = string(sc)
	}

	cmd := &cobra.Command{
		Use:       fmt.Sprintf("scenario {%s}", strings.Join(names, "|")),
		Short:     "Stage a campaign and attempt to activate it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := poc.ParseScenario(args[0])
			if err != nil {
				return err
			}

			cfg, err := crowdfund.LoadConfig()
			if err != nil {
				return err
			}
			if vulnerable {
				cfg.Vulnerable = true
			}
			opts := poc.Options{Config: cfg}

			if dataDir != "" {
				db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(dataDir))
				if err != nil {
					return err
				}
				defer db.Close()
				opts.DB = db
			}
			if journalPath != "" {
				j, err := journal.Open(journal.DefaultConfig(journalPath))
				if err != nil {
					return err
				}
				defer j.Close()
				opts.Journal = j
			}

			report, err := poc.Run(sc, opts)
			if err != nil {
				return errors.Wrapf(err, "scenario %s", sc)
			}
			printReport(cmd.OutOrStdout(), report, showLogs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&vulnerable, "vulnerable", false, "Run the program without the token program and fee vault checks")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Persist the ledger in a BadgerDB directory instead of memory")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Record the transaction in a journal file")
	cmd.Flags().BoolVar(&showLogs, "logs", true, "Print program logs")
	return cmd
}

func printReport(w io.Writer, r *poc.Report, showLogs bool) {
	mode := "hardened"
	if r.Vulnerable {
		mode = "vulnerable"
	}

	fmt.Fprintf(w, "scenario:       %s (%s)\n", r.Scenario, mode)
	fmt.Fprintf(w, "program:        %s\n", r.ProgramID)
	fmt.Fprintf(w, "campaign:       %s\n", r.Campaign)
	fmt.Fprintf(w, "authority:      %s (nonce %d)\n", r.Authority, r.Nonce)
	fmt.Fprintf(w, "token program:  %s\n", r.TokenProgram)
	fmt.Fprintf(w, "fee mint:       %s\n", r.Mint)
	fmt.Fprintf(w, "fee vault:      %s\n", r.FeeVault)
	fmt.Fprintf(w, "signature:      %s\n", r.Result.Signature)

	if showLogs {
		for _, l := range r.Result.Logs {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}

	if r.Result.Success {
		fmt.Fprintln(w, "result:         success")
	} else {
		fmt.Fprintf(w, "result:         failed: %v\n", r.Result.Err)
	}
	fmt.Fprintf(w, "vault balance:  %d -> %d\n", r.VaultBefore, r.VaultAfter)
	fmt.Fprintf(w, "creator tokens: %d -> %d\n", r.CreatorBefore, r.CreatorAfter)
	fmt.Fprintf(w, "enabled:        %t\n", r.Enabled)
	fmt.Fprintf(w, "state:          %s -> %s\n", r.StateBefore, r.StateAfter)

	if r.Enabled && r.Paid() == 0 {
		fmt.Fprintln(w, "campaign enabled without paying the fee")
	}
}
