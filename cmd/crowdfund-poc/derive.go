package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/crowdfund"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

func newDeriveCmd() *cobra.Command {
	var (
		program  string
		campaign string
		mint     string
		nonce    int
	)

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the authority and fee vault of a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := types.PubkeyFromBase58(program)
			if err != nil {
				return errors.Wrap(err, "invalid program")
			}
			campaignKey, err := types.PubkeyFromBase58(campaign)
			if err != nil {
				return errors.Wrap(err, "invalid campaign")
			}
			mintKey, err := types.PubkeyFromBase58(mint)
			if err != nil {
				return errors.Wrap(err, "invalid mint")
			}

			var (
				authority types.Pubkey
				bump      uint8
			)
			switch {
			case nonce < 0:
				authority, bump, err = crowdfund.FindAuthority(programID, campaignKey)
			case nonce <= 255:
				bump = uint8(nonce)
				authority, err = crowdfund.DeriveAuthority(programID, campaignKey, bump)
			default:
				return errors.Errorf("nonce %d out of range", nonce)
			}
			if err != nil {
				return errors.Wrapf(err, "nonce %d", nonce)
			}

			vault, err := token.GetAssociatedAccount(authority, mintKey)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "authority: %s\n", authority)
			fmt.Fprintf(out, "nonce:     %d\n", bump)
			fmt.Fprintf(out, "fee vault: %s\n", vault)
			return nil
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "Crowdfund program address")
	cmd.Flags().StringVar(&campaign, "campaign", "", "Campaign account address")
	cmd.Flags().StringVar(&mint, "mint", types.USDCMintAddr.String(), "Fee mint")
	cmd.Flags().IntVar(&nonce, "nonce", -1, "Authority nonce; searched from 255 down when negative")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}
