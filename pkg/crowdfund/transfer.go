package crowdfund

import (
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

// payFee moves amount from the creator's token account to the fee vault
// through the supplied token program. The creator authorizes the debit; the
// derived authority co-signs by replaying its seeds.
func payFee(ctx svm.InvokeContext, r *enableRequest) error {
	a := r.accounts
	ix := token.NewTransferInstruction(
		a.tokenProgram.Key,
		a.creatorToken.Key,
		a.feeVault.Key,
		a.creator.Key,
		r.amount,
		a.authority.Key,
	)

	seeds := authoritySeeds(a.campaign.Key, r.campaign.Nonce)
	if err := ctx.InvokeSigned(ix, seeds); err != nil {
		return &transferError{cause: err}
	}
	return nil
}
