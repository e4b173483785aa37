package token

import (
	"github.com/fortiblox/x1-crowdfund/internal/types"
	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// AssociatedTokenAccountProgramKey is the address of the associated token
// account program.
//
// Current key: ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL
var AssociatedTokenAccountProgramKey = types.AssociatedTokenProgramAddr

// GetAssociatedAccount returns the associated token account address of wallet
// for mint.
//
// Reference: https://spl.solana.com/associated-token-account#finding-the-associated-token-account-address
func GetAssociatedAccount(wallet, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := svm.FindProgramAddress(
		[][]byte{wallet[:], ProgramKey[:], mint[:]},
		AssociatedTokenAccountProgramKey,
	)
	return addr, err
}
